package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
)

// Piece is one chunk of a ChunkPlan.
type Piece struct {
	Index int
	Count int
	Start int64
	End   int64
	Total int64
}

// Len is the number of bytes in the piece.
func (p Piece) Len() int64 {
	return p.End - p.Start + 1
}

// ChunkPlan splits a file of known size into ranges of at most chunkSize.
// It holds no cursor, so the same plan can be walked again after a failure.
type ChunkPlan struct {
	size      int64
	chunkSize int64
}

// NewChunkPlan creates a plan for size bytes.
func NewChunkPlan(size, chunkSize int64) (*ChunkPlan, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: file size must be positive", ErrInvalidRequest)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive", ErrInvalidRequest)
	}
	return &ChunkPlan{size: size, chunkSize: chunkSize}, nil
}

// Count is the number of pieces.
func (p *ChunkPlan) Count() int {
	return int((p.size + p.chunkSize - 1) / p.chunkSize)
}

// Piece returns piece i.
func (p *ChunkPlan) Piece(i int) Piece {
	start := int64(i) * p.chunkSize
	end := start + p.chunkSize - 1
	if end >= p.size {
		end = p.size - 1
	}
	return Piece{Index: i, Count: p.Count(), Start: start, End: end, Total: p.size}
}

// Pieces lists every piece in order.
func (p *ChunkPlan) Pieces() []Piece {
	out := make([]Piece, 0, p.Count())
	for i := 0; i < p.Count(); i++ {
		out = append(out, p.Piece(i))
	}
	return out
}

// Progress is reported after every relayed piece.
type Progress struct {
	Piece Piece
	Sent  int64
}

// SendFile relays size bytes from r to a resumable session, one piece at a
// time, waiting for each response before sending the next.
func (s *Service) SendFile(ctx context.Context, uploadURL string, r io.Reader, size, chunkSize int64, progress func(Progress)) (*adapter.FileMetadata, error) {
	if chunkSize > s.limits.ChunkMaxBytes {
		return nil, fmt.Errorf("%w: chunk size %d, limit %d", ErrChunkTooLarge, chunkSize, s.limits.ChunkMaxBytes)
	}
	plan, err := NewChunkPlan(size, chunkSize)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, chunkSize)
	for _, piece := range plan.Pieces() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := buf[:piece.Len()]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("failed to read bytes %d-%d: %w", piece.Start, piece.End, err)
		}

		res, err := s.RelayChunk(ctx, ChunkRequest{
			UploadURL:   uploadURL,
			Chunk:       chunk,
			ChunkIndex:  piece.Index,
			TotalChunks: piece.Count,
			Start:       piece.Start,
			End:         piece.End,
			TotalSize:   piece.Total,
		})
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(Progress{Piece: piece, Sent: piece.End + 1})
		}
		if res.Complete {
			return res.File, nil
		}
		if res.NextOffset >= 0 && res.NextOffset != piece.End+1 {
			return nil, fmt.Errorf("upstream expects offset %d after bytes %d-%d", res.NextOffset, piece.Start, piece.End)
		}
	}
	return nil, errors.New("all bytes sent but the upload did not complete")
}
