package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/crypto"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// AdminAccountID is the key of the single admin grant row.
const AdminAccountID = "admin"

// DynamoAPI is the subset of *dynamodb.Client used by AuthService.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// AuthService runs the admin's Google consent flow and keeps the resulting
// refresh token, encrypted, for Drive access.
type AuthService struct {
	oauthConfig  *oauth2.Config
	dynamoClient DynamoAPI
	tableName    string
	kmsService   crypto.Encryptor

	// In-memory fallback
	tokens map[string]model.AdminToken
	mu     sync.RWMutex
}

// NewAuthService creates a new AuthService. A nil dynamoClient keeps the
// grant in memory.
func NewAuthService(oauthConfig *oauth2.Config, dynamoClient DynamoAPI, tableName string, kmsService crypto.Encryptor) *AuthService {
	return &AuthService{
		oauthConfig:  oauthConfig,
		dynamoClient: dynamoClient,
		tableName:    tableName,
		kmsService:   kmsService,
		tokens:       make(map[string]model.AdminToken),
	}
}

// Config returns the OAuth2 config.
func (s *AuthService) Config() *oauth2.Config {
	return s.oauthConfig
}

// GenerateAuthURL returns the Google consent URL. Offline access with forced
// approval makes Google return a refresh token every time.
func (s *AuthService) GenerateAuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges the authorization code for a token.
func (s *AuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return s.oauthConfig.Exchange(ctx, code)
}

// FetchEmail reads the address of the account that granted token.
func (s *AuthService) FetchEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	svc, err := googleoauth.NewService(ctx, option.WithTokenSource(s.oauthConfig.TokenSource(ctx, token)))
	if err != nil {
		return "", fmt.Errorf("failed to create oauth2 service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get user info: %w", err)
	}
	return info.Email, nil
}

// SaveAdminToken encrypts the refresh token and stores it with email. When
// Google omits the refresh token the previously stored one is kept.
func (s *AuthService) SaveAdminToken(ctx context.Context, token *oauth2.Token, email string) error {
	var encrypted string
	if token.RefreshToken != "" {
		var err error
		encrypted, err = s.kmsService.Encrypt(ctx, token.RefreshToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	} else {
		existing, err := s.GetAdminToken(ctx)
		if err != nil {
			return fmt.Errorf("no refresh token in response: %w", err)
		}
		encrypted = existing.EncryptedRefreshToken
	}

	row := model.AdminToken{
		AccountID:             AdminAccountID,
		Email:                 email,
		EncryptedRefreshToken: encrypted,
		UpdatedAt:             time.Now().UTC(),
	}

	if s.dynamoClient == nil {
		s.mu.Lock()
		s.tokens[AdminAccountID] = row
		s.mu.Unlock()
		return nil
	}

	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("failed to marshal admin token: %w", err)
	}
	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save token to DynamoDB: %w", err)
	}
	return nil
}

// GetAdminToken returns the stored grant, or adapter.ErrDriveNotConfigured
// when the admin never linked an account.
func (s *AuthService) GetAdminToken(ctx context.Context) (*model.AdminToken, error) {
	if s.dynamoClient == nil {
		s.mu.RLock()
		t, ok := s.tokens[AdminAccountID]
		s.mu.RUnlock()
		if !ok {
			return nil, adapter.ErrDriveNotConfigured
		}
		return &t, nil
	}

	out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberS{Value: AdminAccountID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, adapter.ErrDriveNotConfigured
	}
	var row model.AdminToken
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal admin token: %w", err)
	}
	return &row, nil
}

// AdminEmail returns the linked admin address.
func (s *AuthService) AdminEmail(ctx context.Context) (string, error) {
	row, err := s.GetAdminToken(ctx)
	if err != nil {
		if errors.Is(err, adapter.ErrDriveNotConfigured) {
			return "", adapter.ErrNotFound
		}
		return "", err
	}
	if row.Email == "" {
		return "", adapter.ErrNotFound
	}
	return row.Email, nil
}

// GetClient returns an http.Client authorized as the linked admin account.
func (s *AuthService) GetClient(ctx context.Context) (*http.Client, error) {
	row, err := s.GetAdminToken(ctx)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.kmsService.Decrypt(ctx, row.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-1 * time.Hour), // Force refresh
	}
	return oauth2.NewClient(ctx, s.oauthConfig.TokenSource(ctx, token)), nil
}
