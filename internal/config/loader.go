package config

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// ProjectFileName is read from the project root.
	ProjectFileName = ".reviewgate.yaml"
	// EnvPrefix marks environment overrides, e.g. REVIEWGATE_POLICY_MODE.
	EnvPrefix = "REVIEWGATE_"
)

//go:embed profiles/*.yaml
var profiles embed.FS

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// ProjectPath is the project root. Defaults to the working directory.
	ProjectPath string
	// ProjectType selects the built-in tool profile, overriding configuration
	// and detection.
	ProjectType string
	// ConfigFile replaces the project file when set. It must exist.
	ConfigFile string
	// UserFile overrides ~/.config/reviewgate/config.yaml. Set to "-" to skip.
	UserFile string
}

// Load builds the configuration.
//
// Precedence (lowest to highest):
//  1. Built-in defaults and the tool profile for the project type
//  2. User file (~/.config/reviewgate/config.yaml)
//  3. Project file (<project>/.reviewgate.yaml or LoadOptions.ConfigFile)
//  4. Environment variables (REVIEWGATE_SECTION_FIELD -> section.field)
//
// Maps merge key by key, so a project file can override one field of one
// tool without restating the rest of the profile.
func Load(opts LoadOptions) (*Config, error) {
	r, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	return r.config()
}

// Render returns the configuration Load would produce as YAML suitable for
// ProjectFileName, along with the project type it was resolved for. The
// project path and any API key are left out.
func Render(opts LoadOptions) ([]byte, string, error) {
	r, err := resolve(opts)
	if err != nil {
		return nil, "", err
	}
	if _, err := r.config(); err != nil {
		return nil, "", err
	}

	r.k.Delete("project.path")
	r.k.Delete("review.api_key")
	if err := r.k.Set("project.type", r.projectType); err != nil {
		return nil, "", fmt.Errorf("set project type: %w", err)
	}
	out, err := r.k.Marshal(yaml.Parser())
	if err != nil {
		return nil, "", fmt.Errorf("marshal config: %w", err)
	}
	return out, r.projectType, nil
}

// resolved is the merged configuration before it is decoded.
type resolved struct {
	k           *koanf.Koanf
	projectType string
	projectPath string
}

func resolve(opts LoadOptions) (*resolved, error) {
	projectPath := opts.ProjectPath
	if projectPath == "" {
		projectPath = "."
	}
	projectPath, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}

	layers, err := fileLayers(opts, projectPath)
	if err != nil {
		return nil, err
	}

	// The profile depends on the project type, which any layer may set.
	typed, err := build("", layers)
	if err != nil {
		return nil, err
	}
	projectType := opts.ProjectType
	if projectType == "" {
		projectType = typed.String("project.type")
	}
	if projectType == "" {
		projectType = DetectProjectType(projectPath)
	}

	k, err := build(projectType, layers)
	if err != nil {
		return nil, err
	}
	return &resolved{k: k, projectType: projectType, projectPath: projectPath}, nil
}

func (r *resolved) config() (*Config, error) {
	var cfg Config
	if err := r.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Project.Type = r.projectType
	cfg.Project.Path = r.projectPath
	if cfg.History.Dir != "" && !filepath.IsAbs(cfg.History.Dir) {
		cfg.History.Dir = filepath.Join(r.projectPath, cfg.History.Dir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// layer is one config file already read into memory.
type layer struct {
	path    string
	content []byte
}

func fileLayers(opts LoadOptions, projectPath string) ([]layer, error) {
	var layers []layer

	userFile := opts.UserFile
	if userFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			userFile = filepath.Join(dir, "reviewgate", "config.yaml")
		}
	}
	if userFile != "" && userFile != "-" {
		content, err := readConfigFile(userFile, false)
		if err != nil {
			return nil, err
		}
		if content != nil {
			layers = append(layers, layer{path: userFile, content: content})
		}
	}

	projectFile, required := opts.ConfigFile, true
	if projectFile == "" {
		projectFile, required = filepath.Join(projectPath, ProjectFileName), false
	}
	content, err := readConfigFile(projectFile, required)
	if err != nil {
		return nil, err
	}
	if content != nil {
		layers = append(layers, layer{path: projectFile, content: content})
	}
	return layers, nil
}

func build(projectType string, layers []layer) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := loadEmbedded(k, "profiles/base.yaml"); err != nil {
		return nil, err
	}
	if projectType != "" {
		name := "profiles/" + projectType + ".yaml"
		if _, err := profiles.Open(name); err == nil {
			if err := loadEmbedded(k, name); err != nil {
				return nil, err
			}
		}
	}

	for _, l := range layers {
		if err := k.Load(rawbytes.Provider(l.content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", l.path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return k, nil
}

func loadEmbedded(k *koanf.Koanf, name string) error {
	content, err := profiles.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	return nil
}

// envKey maps REVIEWGATE_REVIEW_MAX_LINES to review.max_lines: the first
// segment is the section and the rest is the field name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// readConfigFile returns nil content for a missing optional file.
func readConfigFile(path string, required bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config file %s is not a regular file", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
