// Package media provisions room access for call participants. Rooms are
// named, not created: the media plane materializes a room when the first
// token bearing its name connects, so provisioning reduces to minting
// scoped credentials.
package media

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/warmline/warmline/config"
	"github.com/warmline/warmline/types"
)

// RoomGrant is a minted credential for one participant in one room.
type RoomGrant struct {
	Room      string     `json:"room"`
	Identity  string     `json:"identity"`
	Role      types.Role `json:"role"`
	Token     string     `json:"token"`
	ServerURL string     `json:"server_url"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Provisioner mints room credentials.
type Provisioner interface {
	GrantRoom(room, identity string, role types.Role) (*RoomGrant, error)
}

// ConsultRoom derives the private consultation room name for a transfer.
func ConsultRoom(transferID string) string {
	id := transferID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("transfer_%s", id)
}

// JWTProvisioner signs HS256 room tokens the media server verifies with the
// shared API secret.
type JWTProvisioner struct {
	apiKey    string
	apiSecret []byte
	serverURL string
	ttl       time.Duration
	logger    *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewJWTProvisioner builds a provisioner from media configuration.
func NewJWTProvisioner(cfg config.MediaConfig, logger *zap.Logger) (*JWTProvisioner, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("media api key and secret are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTProvisioner{
		apiKey:    cfg.APIKey,
		apiSecret: []byte(cfg.APISecret),
		serverURL: cfg.WSURL,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "media_provisioner")),
		now:       time.Now,
	}, nil
}

type roomClaims struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GrantRoom mints a token scoped to one (room, identity, role) triple.
func (p *JWTProvisioner) GrantRoom(room, identity string, role types.Role) (*RoomGrant, error) {
	if room == "" || identity == "" {
		return nil, fmt.Errorf("room and identity are required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	now := p.now()
	expiresAt := now.Add(p.ttl)

	claims := roomClaims{
		Identity: identity,
		Room:     room,
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.apiKey,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.apiSecret)
	if err != nil {
		return nil, fmt.Errorf("sign room token: %w", err)
	}

	p.logger.Debug("room token minted",
		zap.String("room", room),
		zap.String("identity", identity),
		zap.String("role", string(role)),
	)

	return &RoomGrant{
		Room:      room,
		Identity:  identity,
		Role:      role,
		Token:     token,
		ServerURL: p.serverURL,
		ExpiresAt: expiresAt,
	}, nil
}
