package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopflow/etl/logger"
)

type Config struct {
	Logger      LoggerConfig      `json:"logger" yaml:"logger"`
	Host        string            `json:"host" yaml:"host"`
	Username    string            `json:"username" yaml:"username"`
	Password    string            `json:"password" yaml:"password"`
	Database    string            `json:"database" yaml:"database"`
	Port        int               `json:"port" yaml:"port"`
	Source      SourceConfig      `json:"source" yaml:"source"`
	Warehouse   WarehouseConfig   `json:"warehouse" yaml:"warehouse"`
	Checkpoint  CheckpointConfig  `json:"checkpoint" yaml:"checkpoint"`
	Incremental IncrementalConfig `json:"incremental" yaml:"incremental"`
	Blob        BlobConfig        `json:"blob" yaml:"blob"`
	Quality     QualityConfig     `json:"quality" yaml:"quality"`
	Metric      MetricConfig      `json:"metric" yaml:"metric"`
	DebugMode   bool              `json:"debugMode" yaml:"debugMode"`
}

type LoggerConfig struct {
	Logger   logger.Logger `json:"-" yaml:"-"`         // custom logger
	LogLevel slog.Level    `json:"level" yaml:"level"` // if custom logger is nil, set the slog log level
}

// SourceConfig locates the operational schema the extractor reads from.
type SourceConfig struct {
	Schema  string `json:"schema" yaml:"schema"`
	DataDir string `json:"dataDir" yaml:"dataDir"` // local raw CSV directory
}

// WarehouseConfig locates the analytical schema all merge and dimension
// targets live in.
type WarehouseConfig struct {
	Schema string `json:"schema" yaml:"schema"`
}

type CheckpointConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

type IncrementalConfig struct {
	// OverlapWindowHours is the trailing window re-read on every extraction
	// to catch records committed at the source after the watermark passed
	// their event time.
	OverlapWindowHours int  `json:"overlapWindowHours" yaml:"overlapWindowHours"`
	FetchRetry         uint `json:"fetchRetry" yaml:"fetchRetry"`
}

func (c IncrementalConfig) OverlapWindow() time.Duration {
	return time.Duration(c.OverlapWindowHours) * time.Hour
}

type BlobConfig struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"` // custom endpoint, for MinIO in tests
	AccessKey string `json:"accessKey" yaml:"accessKey"`
	SecretKey string `json:"secretKey" yaml:"secretKey"`
}

type QualityConfig struct {
	ReportPath string `json:"reportPath" yaml:"reportPath"`
}

type MetricConfig struct {
	Port int `json:"port" yaml:"port"`
}

func (c *Config) DSN() string {
	// URL-encode username and password to handle special characters
	encodedUsername := url.QueryEscape(c.Username)
	encodedPassword := url.QueryEscape(c.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", encodedUsername, encodedPassword, c.Host, c.Port, c.Database)
}

func (c *Config) SetDefault() {
	if c.Port == 0 {
		c.Port = 5432
	}

	if c.Metric.Port == 0 {
		c.Metric.Port = 8080
	}

	if c.Source.Schema == "" {
		c.Source.Schema = "public"
	}

	if c.Source.DataDir == "" {
		c.Source.DataDir = "data/raw"
	}

	if c.Warehouse.Schema == "" {
		c.Warehouse.Schema = "warehouse"
	}

	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "checkpoints"
	}

	if c.Incremental.OverlapWindowHours == 0 {
		c.Incremental.OverlapWindowHours = 48
	}

	if c.Incremental.FetchRetry == 0 {
		c.Incremental.FetchRetry = 5
	}

	if c.Quality.ReportPath == "" {
		c.Quality.ReportPath = "logs/quality_report.md"
	}

	if c.Logger.Logger == nil {
		c.Logger.Logger = logger.NewSlog(c.Logger.LogLevel)
	}
}

func (c *Config) Validate() error {
	var err error
	if isEmpty(c.Host) {
		err = errors.Join(err, errors.New("host cannot be empty"))
	}

	if isEmpty(c.Username) {
		err = errors.Join(err, errors.New("username cannot be empty"))
	}

	if isEmpty(c.Password) {
		err = errors.Join(err, errors.New("password cannot be empty"))
	}

	if isEmpty(c.Database) {
		err = errors.Join(err, errors.New("database cannot be empty"))
	}

	if c.Incremental.OverlapWindowHours < 0 {
		err = errors.Join(err, errors.New("incremental.overlapWindowHours cannot be negative"))
	}

	for _, v := range []string{c.Host, c.Username, c.Password, c.Database, c.Blob.Bucket} {
		if strings.Contains(v, missingEnvPrefix) {
			err = errors.Join(err, fmt.Errorf("unresolved environment placeholder in config: %s", v))
		}
	}

	return err
}

func (c *Config) Print() {
	cfg := *c
	cfg.Password = "*******"
	b, _ := json.Marshal(cfg)
	fmt.Println("used config: " + string(b))
}

func isEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
