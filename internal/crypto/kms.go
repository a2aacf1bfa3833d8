// Package crypto wraps the envelope used for the admin's stored Drive grant.
package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor encrypts and decrypts short secrets such as OAuth refresh tokens.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSAPI is the subset of *kms.Client used by KMSService.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// purposeKey binds ciphertexts to this use so they cannot be replayed elsewhere.
const purposeKey = "purpose"

// KMSService implements Encryptor using AWS KMS.
type KMSService struct {
	client  KMSAPI
	keyID   string
	purpose string
}

// NewKMSService creates a KMSService. keyID can be a key ID, key ARN, or
// alias name (e.g., "alias/etearsheets-token-key").
func NewKMSService(client KMSAPI, keyID, purpose string) *KMSService {
	return &KMSService{
		client:  client,
		keyID:   keyID,
		purpose: purpose,
	}
}

func (s *KMSService) encryptionContext() map[string]string {
	if s.purpose == "" {
		return nil
	}
	return map[string]string{purposeKey: s.purpose}
}

// Encrypt returns the base64 encoded ciphertext of plaintext.
func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         []byte(plaintext),
		EncryptionContext: s.encryptionContext(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt data: %w", err)
	}

	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// Decrypt decrypts a value produced by Encrypt.
func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    decoded,
		KeyId:             aws.String(s.keyID),
		EncryptionContext: s.encryptionContext(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %w", err)
	}

	return string(result.Plaintext), nil
}
