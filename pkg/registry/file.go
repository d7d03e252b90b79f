package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// FileRegistry serves the directory from agents and services files. Files may
// be YAML or JSON, either a list of records or a map keyed by id.
type FileRegistry struct {
	*Memory
	agentsFile   string
	servicesFile string
	logger       *slog.Logger
}

// NewFileRegistry loads both files. A missing file yields an empty set with a
// warning; a malformed file is an error.
func NewFileRegistry(agentsFile, servicesFile string) (*FileRegistry, error) {
	r := &FileRegistry{
		Memory:       NewMemory(nil, nil),
		agentsFile:   agentsFile,
		servicesFile: servicesFile,
		logger:       slog.Default().With("component", "registry"),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads both files and swaps the contents only if both parse.
func (r *FileRegistry) Reload() error {
	agents, err := loadFile(r.logger, r.agentsFile, func(id string, a *contracts.Agent) {
		if a.AgentID == "" {
			a.AgentID = id
		}
	})
	if err != nil {
		return err
	}
	services, err := loadFile(r.logger, r.servicesFile, func(id string, s *contracts.Service) {
		if s.ServiceID == "" {
			s.ServiceID = id
		}
	})
	if err != nil {
		return err
	}

	r.Replace(agents, services)
	r.logger.Info("registry loaded", "agents", len(agents), "services", len(services))
	return nil
}

func loadFile[T any](logger *slog.Logger, path string, setID func(string, *T)) ([]*T, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("registry file not found, starting empty", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	items, err := decodeRecords(data, setID)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

// decodeRecords accepts a YAML/JSON list or an id-keyed map of T.
func decodeRecords[T any](data []byte, setID func(string, *T)) ([]*T, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	switch root.Kind {
	case yaml.SequenceNode:
		var list []*T
		if err := root.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.MappingNode:
		var byID map[string]*T
		if err := root.Decode(&byID); err != nil {
			return nil, err
		}
		out := make([]*T, 0, len(byID))
		for id, item := range byID {
			if item == nil {
				continue
			}
			setID(id, item)
			out = append(out, item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list or a map, got %v", root.Tag)
	}
}
