// Package config loads voxelstl settings.
//
// Values are layered: built-in defaults, then a YAML file, then .env files,
// then VOXELSTL_* environment variables. Command line flags are applied on
// top by the caller.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/setanarut/voxelstl"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VOXELSTL_"

type Config struct {
	Pipeline struct {
		MaxSize     int       `yaml:"maxSize"`
		BlockSize   BlockSize `yaml:"blockSize"`
		Colors      int       `yaml:"colors"`
		NozzleSize  float64   `yaml:"nozzleSize"`
		LayerHeight float64   `yaml:"layerHeight"`
		ColorLayers int       `yaml:"colorLayers"`
		// kmeans or dominantcolor
		Method string `yaml:"method"`
		// cluster, brightness or population
		Order      string `yaml:"order"`
		Solid      bool   `yaml:"solid"`
		MaxSamples int    `yaml:"maxSamples"`
		Workers    int    `yaml:"workers"`
	} `yaml:"pipeline"`

	Server ServerConfig `yaml:"server"`

	Output struct {
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	MaxUploadMB int64         `yaml:"maxUploadMB"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
}

// BlockSize is a tile edge in pixels. 0, written "auto" in YAML and the
// environment, derives it from each image.
type BlockSize int

func ParseBlockSize(s string) (BlockSize, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "auto") {
		return BlockSize(voxelstl.AutoBlockSize), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrap(err, "block size")
	}
	return BlockSize(n), nil
}

func (b *BlockSize) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseBlockSize(node.Value)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b BlockSize) MarshalYAML() (any, error) {
	if b == voxelstl.AutoBlockSize {
		return "auto", nil
	}
	return int(b), nil
}

func DefaultConfig() *Config {
	opt := voxelstl.DefaultOptions()
	cfg := &Config{}
	cfg.Pipeline.MaxSize = opt.MaxSize
	cfg.Pipeline.BlockSize = BlockSize(opt.BlockSize)
	cfg.Pipeline.Colors = opt.Colors
	cfg.Pipeline.NozzleSize = opt.NozzleSize
	cfg.Pipeline.LayerHeight = opt.LayerHeight
	cfg.Pipeline.ColorLayers = opt.ColorLayers
	cfg.Pipeline.Method = opt.Method.String()
	cfg.Pipeline.Order = opt.Order.String()
	cfg.Pipeline.MaxSamples = opt.MaxSamples
	cfg.Pipeline.Workers = runtime.NumCPU()

	cfg.Server.Addr = ":8080"
	cfg.Server.MaxUploadMB = 10
	cfg.Server.ReadTimeout = 30 * time.Second

	cfg.Output.Verbose = false
	return cfg
}

// LoadConfig reads the YAML file at configPath (a missing file means
// defaults), then the given .env files, then the process environment.
// Missing .env files are skipped.
func LoadConfig(configPath string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrap(err, "read config file")
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "parse config file")
			}
		}
	}

	dotenv := map[string]string{}
	for _, f := range envFiles {
		vals, err := godotenv.Read(f)
		if os.IsNotExist(errors.Cause(err)) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", f)
		}
		for k, v := range vals {
			dotenv[k] = v
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects server limits that would refuse every request.
func (s ServerConfig) Validate() error {
	if s.MaxUploadMB < 1 {
		return errors.Errorf("server.maxUploadMB must be at least 1, got %d", s.MaxUploadMB)
	}
	if s.ReadTimeout < 0 {
		return errors.Errorf("server.readTimeout must not be negative, got %s", s.ReadTimeout)
	}
	return nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	p := &cfg.Pipeline
	ints := map[string]*int{
		"MAX_SIZE":     &p.MaxSize,
		"COLORS":       &p.Colors,
		"COLOR_LAYERS": &p.ColorLayers,
		"MAX_SAMPLES":  &p.MaxSamples,
		"WORKERS":      &p.Workers,
	}
	for k, dst := range ints {
		if v, ok := lookup(EnvPrefix + k); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, k)
			}
			*dst = n
		}
	}
	floats := map[string]*float64{
		"NOZZLE_SIZE":  &p.NozzleSize,
		"LAYER_HEIGHT": &p.LayerHeight,
	}
	for k, dst := range floats {
		if v, ok := lookup(EnvPrefix + k); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, k)
			}
			*dst = f
		}
	}
	bools := map[string]*bool{
		"SOLID":   &p.Solid,
		"VERBOSE": &cfg.Output.Verbose,
	}
	for k, dst := range bools {
		if v, ok := lookup(EnvPrefix + k); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", EnvPrefix, k)
			}
			*dst = b
		}
	}
	if v, ok := lookup(EnvPrefix + "BLOCK_SIZE"); ok {
		bs, err := ParseBlockSize(v)
		if err != nil {
			return errors.Wrapf(err, "%sBLOCK_SIZE", EnvPrefix)
		}
		p.BlockSize = bs
	}
	if v, ok := lookup(EnvPrefix + "METHOD"); ok {
		p.Method = v
	}
	if v, ok := lookup(EnvPrefix + "ORDER"); ok {
		p.Order = v
	}
	if v, ok := lookup(EnvPrefix + "ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := lookup(EnvPrefix + "MAX_UPLOAD_MB"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%sMAX_UPLOAD_MB", EnvPrefix)
		}
		cfg.Server.MaxUploadMB = n
	}
	if v, ok := lookup(EnvPrefix + "READ_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%sREAD_TIMEOUT", EnvPrefix)
		}
		cfg.Server.ReadTimeout = d
	}
	return nil
}

// Options converts the pipeline section and validates it.
func (cfg *Config) Options() (voxelstl.Options, error) {
	p := cfg.Pipeline
	method, err := voxelstl.ParsePaletteMethod(p.Method)
	if err != nil {
		return voxelstl.Options{}, err
	}
	order, err := voxelstl.ParseBandOrder(p.Order)
	if err != nil {
		return voxelstl.Options{}, err
	}
	opt := voxelstl.Options{
		MaxSize:     p.MaxSize,
		BlockSize:   int(p.BlockSize),
		Colors:      p.Colors,
		NozzleSize:  p.NozzleSize,
		LayerHeight: p.LayerHeight,
		ColorLayers: p.ColorLayers,
		Method:      method,
		Order:       order,
		Solid:       p.Solid,
		MaxSamples:  p.MaxSamples,
		Workers:     p.Workers,
	}
	if opt.Workers < 1 {
		opt.Workers = runtime.NumCPU()
	}
	return opt, opt.Validate()
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	return errors.Wrap(os.WriteFile(configPath, data, 0644), "write config file")
}

func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
