package workflow

import (
	"encoding/json"
	"fmt"

	"inboxforge/internal/models"
	"inboxforge/pkg/secretbox"
)

// decodeJiraConfig round-trips IssueConfig.Jira's free-form JSONMap into a
// typed JiraConfig via its json tags (spec §6: "opaque JSON under
// well-known keys"), then decrypts the sealed API token. The JSONMap never
// carries a plaintext token, only APITokenEnc (secretbox.Seal'd at
// configuration time).
func decodeJiraConfig(raw models.JSONMap, box *secretbox.Box) (models.JiraConfig, error) {
	var cfg models.JiraConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	b, err := json.Marshal(map[string]any(raw))
	if err != nil {
		return cfg, fmt.Errorf("encode jira config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("decode jira config: %w", err)
	}
	if cfg.APITokenEnc != "" && box != nil {
		token, err := box.Open(cfg.APITokenEnc)
		if err != nil {
			return cfg, fmt.Errorf("decrypt jira api token: %w", err)
		}
		cfg.APIToken = token
	}
	return cfg, nil
}
