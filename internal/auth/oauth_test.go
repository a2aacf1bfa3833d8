package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/oauth2"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/crypto"
)

func testAuthService(db DynamoAPI) *AuthService {
	return NewAuthService(
		&oauth2.Config{
			ClientID:     "test-client-id",
			ClientSecret: "test-client-secret",
			RedirectURL:  "http://localhost:3000/api/auth/callback",
		},
		db,
		"AdminTokens",
		crypto.NewMockEncryptor(),
	)
}

func TestAuthService_SaveAndGetAdminToken(t *testing.T) {
	s := testAuthService(nil)
	ctx := context.Background()

	token := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		Expiry:       time.Now().Add(1 * time.Hour),
	}
	if err := s.SaveAdminToken(ctx, token, "admin@example.com"); err != nil {
		t.Fatalf("SaveAdminToken failed: %v", err)
	}

	saved, err := s.GetAdminToken(ctx)
	if err != nil {
		t.Fatalf("GetAdminToken failed: %v", err)
	}
	if saved.AccountID != AdminAccountID {
		t.Errorf("Expected account id %q, got %q", AdminAccountID, saved.AccountID)
	}
	// MockEncryptor prefixes with "mock:"
	if saved.EncryptedRefreshToken != "mock:refresh-456" {
		t.Errorf("Expected encrypted token 'mock:refresh-456', got '%s'", saved.EncryptedRefreshToken)
	}

	email, err := s.AdminEmail(ctx)
	if err != nil || email != "admin@example.com" {
		t.Errorf("AdminEmail = %q, %v", email, err)
	}
}

func TestAuthService_KeepsRefreshTokenOnReconsent(t *testing.T) {
	s := testAuthService(nil)
	ctx := context.Background()

	s.SaveAdminToken(ctx, &oauth2.Token{RefreshToken: "first"}, "a@example.com")
	if err := s.SaveAdminToken(ctx, &oauth2.Token{AccessToken: "only-access"}, "b@example.com"); err != nil {
		t.Fatalf("SaveAdminToken failed: %v", err)
	}
	saved, _ := s.GetAdminToken(ctx)
	if saved.EncryptedRefreshToken != "mock:first" || saved.Email != "b@example.com" {
		t.Errorf("Unexpected row: %+v", saved)
	}
}

func TestAuthService_NotLinked(t *testing.T) {
	s := testAuthService(nil)
	ctx := context.Background()

	if _, err := s.GetClient(ctx); !errors.Is(err, adapter.ErrDriveNotConfigured) {
		t.Errorf("Expected ErrDriveNotConfigured, got %v", err)
	}
	if _, err := s.AdminEmail(ctx); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := s.SaveAdminToken(ctx, &oauth2.Token{}, "a@example.com"); err == nil {
		t.Error("Expected error when no refresh token was ever granted")
	}
}

func TestAuthService_GenerateAuthURL(t *testing.T) {
	s := testAuthService(nil)
	url := s.GenerateAuthURL("state-123")
	for _, want := range []string{"state=state-123", "access_type=offline", "prompt=consent", "client_id=test-client-id"} {
		if !strings.Contains(url, want) {
			t.Errorf("Expected %q in %s", want, url)
		}
	}
}

type fakeTokenTable struct {
	items map[string]map[string]types.AttributeValue
}

func (f *fakeTokenTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	id := in.Key["account_id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func (f *fakeTokenTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	id := in.Item["account_id"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestAuthService_DynamoPersistence(t *testing.T) {
	db := &fakeTokenTable{items: map[string]map[string]types.AttributeValue{}}
	ctx := context.Background()

	if err := testAuthService(db).SaveAdminToken(ctx, &oauth2.Token{RefreshToken: "r"}, "admin@example.com"); err != nil {
		t.Fatalf("SaveAdminToken failed: %v", err)
	}

	// A fresh service (new Lambda container) sees the same grant.
	email, err := testAuthService(db).AdminEmail(ctx)
	if err != nil || email != "admin@example.com" {
		t.Errorf("AdminEmail = %q, %v", email, err)
	}
	if _, err := testAuthService(db).GetClient(ctx); err != nil {
		t.Errorf("GetClient failed: %v", err)
	}
}
