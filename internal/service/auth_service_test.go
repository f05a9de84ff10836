package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
)

type mockOperatorRepo struct {
	byCode           map[string]*models.Operator
	findErr          error
	created          []*models.Operator
	lastLoginUpdated bool
}

func (m *mockOperatorRepo) FindByCode(_ context.Context, code string) (*models.Operator, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if op, ok := m.byCode[code]; ok {
		return op, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockOperatorRepo) FindByID(_ context.Context, id string) (*models.Operator, error) {
	for _, op := range m.byCode {
		if op.ID == id {
			return op, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockOperatorRepo) Create(_ context.Context, op *models.Operator) error {
	op.ID = "generated"
	m.created = append(m.created, op)
	return nil
}

func (m *mockOperatorRepo) UpdateLastLogin(context.Context, string, time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func newOperator(t *testing.T, pin string, active bool) *models.Operator {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.Operator{ID: "op-1", Code: "north-1", FullName: "North One", PinHash: string(hash), Active: active}
}

func newAuthService(repo *mockOperatorRepo) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "test", DefaultDeviceID: "dev-default"})
}

func TestLoginIssuesTokenWithDevice(t *testing.T) {
	repo := &mockOperatorRepo{byCode: map[string]*models.Operator{"north-1": newOperator(t, "1234", true)}}
	svc := newAuthService(repo)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Code: "north-1", PIN: "1234", DeviceID: "tablet-9"})
	require.NoError(t, err)
	assert.Equal(t, "tablet-9", resp.DeviceID)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.True(t, repo.lastLoginUpdated)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.OperatorID)
	assert.Equal(t, "tablet-9", claims.DeviceID)
}

func TestLoginFallsBackToConfiguredDevice(t *testing.T) {
	repo := &mockOperatorRepo{byCode: map[string]*models.Operator{"north-1": newOperator(t, "1234", true)}}
	resp, err := newAuthService(repo).Login(context.Background(), models.LoginRequest{Code: "north-1", PIN: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "dev-default", resp.DeviceID)
}

func TestLoginRejectsBadPinAndInactive(t *testing.T) {
	repo := &mockOperatorRepo{byCode: map[string]*models.Operator{
		"north-1": newOperator(t, "1234", true),
		"south-1": func() *models.Operator { op := newOperator(t, "1234", false); op.Code = "south-1"; return op }(),
	}}
	svc := newAuthService(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Code: "north-1", PIN: "9999"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{Code: "missing", PIN: "1234"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{Code: "south-1", PIN: "1234"})
	assert.True(t, errors.Is(err, appErrors.ErrInactiveAccount))

	_, err = svc.Login(context.Background(), models.LoginRequest{Code: "north-1"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	repo := &mockOperatorRepo{byCode: map[string]*models.Operator{"north-1": newOperator(t, "1234", true)}}
	resp, err := newAuthService(repo).Login(context.Background(), models.LoginRequest{Code: "north-1", PIN: "1234"})
	require.NoError(t, err)

	other := NewAuthService(repo, nil, nil, AuthConfig{AccessTokenSecret: "different", Issuer: "test"})
	_, err = other.ValidateToken(resp.AccessToken)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestCreateOperatorHashesPinAndRejectsDuplicates(t *testing.T) {
	repo := &mockOperatorRepo{byCode: map[string]*models.Operator{"north-1": newOperator(t, "1234", true)}}
	svc := newAuthService(repo)

	op, err := svc.CreateOperator(context.Background(), models.CreateOperatorRequest{Code: "east-1", FullName: " East ", PIN: "4321"})
	require.NoError(t, err)
	assert.Equal(t, "East", op.FullName)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(op.PinHash), []byte("4321")))

	_, err = svc.CreateOperator(context.Background(), models.CreateOperatorRequest{Code: "north-1", FullName: "Dup", PIN: "4321"})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}
