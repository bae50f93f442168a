// Package identity registers this client instance with the dictation
// service and keeps the issued token verified across reconnects.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"patter/internal/domain"
	"patter/internal/ports"
)

const clientUUIDHeader = "X-Client-UUID"

// Registrar implements ports.Registrar against the service's config API.
type Registrar struct {
	client *http.Client
	store  ports.SettingsStore
	log    zerolog.Logger
}

func NewRegistrar(store ports.SettingsStore, timeout time.Duration, log zerolog.Logger) *Registrar {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registrar{
		client: &http.Client{Timeout: timeout},
		store:  store,
		log:    log.With().Str("component", "identity").Logger(),
	}
}

// EnsureIdentity verifies the cached token against the peer, registering a
// new one when the cache is empty or rejected. The returned token has been
// acknowledged by the peer and persisted.
func (r *Registrar) EnsureIdentity(ctx context.Context, serverURL string, cached string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if base == "" {
		return "", fmt.Errorf("%w: server address is empty", domain.ErrRegistration)
	}

	if cached != "" {
		ok, err := r.verify(ctx, base, cached)
		if err != nil {
			return "", err
		}
		if ok {
			return cached, nil
		}
		r.log.Info().Msg("cached identity rejected, registering a new one")
	}

	token, err := r.register(ctx, base)
	if err != nil {
		return "", err
	}

	if err := r.store.Update(func(s *domain.Settings) { s.ClientUUID = token }); err != nil {
		return "", fmt.Errorf("%w: failed to persist identity: %v", domain.ErrRegistration, err)
	}
	r.log.Info().Msg("registered new client identity")
	return token, nil
}

func (r *Registrar) verify(ctx context.Context, base string, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/clients/verify", nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrRegistration, err)
	}
	req.Header.Set(clientUUIDHeader, token)

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrRegistration, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("%w: verify returned status %d", domain.ErrRegistration, resp.StatusCode)
	}
}

func (r *Registrar) register(ctx context.Context, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/clients/register", bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRegistration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRegistration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: register returned status %d", domain.ErrRegistration, resp.StatusCode)
	}

	var payload struct {
		ClientUUID string `json:"client_uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: malformed register response: %v", domain.ErrRegistration, err)
	}
	token := strings.TrimSpace(payload.ClientUUID)
	if token == "" {
		return "", fmt.Errorf("%w: register response carried no client uuid", domain.ErrRegistration)
	}
	return token, nil
}
