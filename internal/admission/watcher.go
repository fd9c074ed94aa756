package admission

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the on-disk policy document. It is supplied by an external
// policy source and may be rewritten at any time while the client runs.
type PolicyFile struct {
	ConcertWhitelist []string `yaml:"concert_whitelist"`
	ConcertBlacklist []string `yaml:"concert_blacklist"`
	RappWhitelist    []string `yaml:"rapp_whitelist"`
	RappBlacklist    []string `yaml:"rapp_blacklist"`
}

// Policies converts the file document into filter snapshots.
func (pf *PolicyFile) Policies() (callers, capabilities *Policy) {
	callers = &Policy{Allow: pf.ConcertWhitelist, Deny: pf.ConcertBlacklist}
	capabilities = &Policy{Allow: pf.RappWhitelist, Deny: pf.RappBlacklist}
	return callers, capabilities
}

// LoadPolicyFile reads and parses a policy document.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	return &pf, nil
}

// WatchPolicyFile loads the policy file into the filter, then watches it
// for changes and hot-swaps the filter's snapshots on every rewrite.
// A rewrite that fails to parse is logged and skipped; the previous
// snapshot stays in force. Blocks until the context is cancelled.
func WatchPolicyFile(ctx context.Context, filter *Filter, path string) error {
	if err := reload(filter, path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch policy file: %w", err)
	}

	log.Printf("[Admission] Watching policy file %s", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := reload(filter, path); err != nil {
				log.Printf("[Admission] Policy reload failed, keeping previous snapshot: %v", err)
				continue
			}
			log.Printf("[Admission] Policy reloaded from %s", path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Admission] Policy watcher error: %v", err)
		}
	}
}

func reload(filter *Filter, path string) error {
	pf, err := LoadPolicyFile(path)
	if err != nil {
		return err
	}

	callers, capabilities := pf.Policies()
	filter.Replace(callers, capabilities)
	return nil
}
