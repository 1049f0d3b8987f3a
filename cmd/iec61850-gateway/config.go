package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v3"

	gateway "github.com/marrasen/iec61850-gateway"
	"github.com/marrasen/iec61850-gateway/mqtt"
)

const (
	backendLibIEC61850 = "iec61850"
	backendMemory      = "memory"
)

// gatewayFile is the YAML file naming the configuration documents of a
// gateway. Relative paths are taken from the directory of the file.
type gatewayFile struct {
	Backend   string       `yaml:"backend" validate:"regexp=^(iec61850|memory)?$"`
	ModelPath string       `yaml:"model_path"`
	CertDir   string       `yaml:"cert_dir"`
	Documents documents    `yaml:"documents"`
	MQTT      *mqtt.Config `yaml:"mqtt"`
	Log       logConfig    `yaml:"log"`

	dir string
}

type documents struct {
	ProtocolStack string `yaml:"protocol_stack" validate:"nonzero"`
	ExchangedData string `yaml:"exchanged_data" validate:"nonzero"`
	TLSConf       string `yaml:"tls_conf"`
	SchedulerConf string `yaml:"scheduler_conf"`
}

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"regexp=^(text|json)?$"`
}

func loadGatewayFile(path string) (*gatewayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateway file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	cfg := &gatewayFile{}
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode gateway file %q: %w", path, err)
	}
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate gateway file %q: %w", path, err)
	}
	if cfg.Backend == "" {
		cfg.Backend = backendLibIEC61850
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

func (c *gatewayFile) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.dir, name)
}

// category reads the configuration documents into the items Configure expects.
func (c *gatewayFile) category() (gateway.MapCategory, error) {
	cat := gateway.MapCategory{}
	docs := []struct{ item, path string }{
		{gateway.ItemProtocolStack, c.Documents.ProtocolStack},
		{gateway.ItemExchangedData, c.Documents.ExchangedData},
		{gateway.ItemTLSConf, c.Documents.TLSConf},
		{gateway.ItemSchedulerConf, c.Documents.SchedulerConf},
	}
	for _, d := range docs {
		if d.path == "" {
			continue
		}
		data, err := os.ReadFile(c.resolve(d.path))
		if err != nil {
			return nil, fmt.Errorf("read %s document: %w", d.item, err)
		}
		cat[d.item] = string(data)
	}
	if c.ModelPath != "" {
		cat[gateway.ItemModelPath] = c.resolve(c.ModelPath)
	}
	return cat, nil
}

func (c *gatewayFile) certDir() string {
	if c.CertDir == "" {
		return c.dir
	}
	return c.resolve(c.CertDir)
}

func newLogger(cfg logConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
