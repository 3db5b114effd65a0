package monitoring

import (
	"fmt"
	"time"

	"github.com/R8355H0755/lan-insight/internal/config"
	"github.com/R8355H0755/lan-insight/internal/errors"
)

// UpdateConfig validates and persists a batch of settings, then reloads the
// effective configuration from the store. Nothing is written unless every key
// in the batch validates. A changed refresh interval restarts the ticker;
// pending poll tasks finish under their old deadline.
func (e *Engine) UpdateConfig(updates map[string]string) (map[string]string, error) {
	if len(updates) == 0 {
		return nil, errors.WrapValidation("update_config", fmt.Errorf("no settings provided"))
	}

	normalized := make(map[string]string, len(updates))
	for key, value := range updates {
		canonical, err := config.NormalizeSetting(key, value)
		if err != nil {
			return nil, errors.WrapValidation("update_config", err)
		}
		normalized[key] = canonical
	}

	for key, value := range normalized {
		if err := e.store.SetConfig(key, value, ""); err != nil {
			return nil, err
		}
	}

	return e.reloadConfig()
}

// ConfigValues returns the persisted settings restricted to the recognized
// keys.
func (e *Engine) ConfigValues() (map[string]string, error) {
	stored, err := e.store.AllConfig()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(stored))
	for _, key := range config.StoredKeys() {
		if value, ok := stored[key]; ok {
			out[key] = value
		}
	}
	return out, nil
}

// ReloadSettings re-reads the persisted settings and applies them. Used when
// something outside the API changed the configuration table.
func (e *Engine) ReloadSettings() (map[string]string, error) {
	return e.reloadConfig()
}

// reloadConfig re-applies the stored settings and propagates side effects:
// ticker interval and SNMP session timeout.
func (e *Engine) reloadConfig() (map[string]string, error) {
	stored, err := e.store.AllConfig()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	prevRefresh := e.cfg.RefreshInterval
	prevSNMP := e.cfg.SNMPTimeout
	e.cfg.ApplyStored(stored)
	newRefresh := e.cfg.RefreshInterval
	newSNMP := e.cfg.SNMPTimeout
	running := e.running
	e.mu.Unlock()

	if newSNMP != prevSNMP {
		e.remoteProbe.SetTimeout(time.Duration(newSNMP) * time.Millisecond)
	}
	if newRefresh != prevRefresh && running {
		select {
		case e.resetTicker <- time.Duration(newRefresh) * time.Second:
		default:
		}
	}

	e.log.Info().Int("settings", len(stored)).Msg("Configuration reloaded")
	return e.ConfigValues()
}
