package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// staticTokenFileEntry is one row of the COORD_STATIC_TOKENS_PATH JSON
// document: a flat array of credential rows, loaded once at startup.
type staticTokenFileEntry struct {
	Token     string   `json:"token"`
	Principal string   `json:"principal"`
	Scopes    []string `json:"scopes"`
	ExpiresAt string   `json:"expires_at,omitempty"` // RFC3339, empty means no expiry
}

// LoadStaticTokensFile parses path and registers every row against v. A
// missing path is not an error — static-table auth is optional when the
// deployment relies on HMAC tokens alone.
func LoadStaticTokensFile(v *Validator, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading static tokens file %s: %w", path, err)
	}

	var entries []staticTokenFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing static tokens file %s: %w", path, err)
	}

	for _, e := range entries {
		if e.Token == "" || e.Principal == "" {
			return fmt.Errorf("static tokens file %s: entry missing token or principal", path)
		}
		var expiresAt time.Time
		if e.ExpiresAt != "" {
			expiresAt, err = time.Parse(time.RFC3339, e.ExpiresAt)
			if err != nil {
				return fmt.Errorf("static tokens file %s: invalid expires_at for principal %s: %w", path, e.Principal, err)
			}
		}
		scopes := make([]Scope, 0, len(e.Scopes))
		for _, s := range e.Scopes {
			scopes = append(scopes, Scope(s))
		}
		v.AddStaticToken(e.Token, e.Principal, scopes, expiresAt)
	}
	return nil
}
