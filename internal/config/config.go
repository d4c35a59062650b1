// Package config assembles the worker's typed configuration from the
// environment at startup and validates it before anything else runs.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"judgeworker/internal/sandbox/engine"
	"judgeworker/pkg/errors"
)

// QueueMapping binds one queue name to the compiler image its submissions
// are built with. The worker polls queues in declaration order; the first
// queue returning a submission wins.
type QueueMapping struct {
	Queue         string `validate:"required"`
	CompilerImage string `validate:"required"`
}

// Config is the worker's full runtime configuration.
type Config struct {
	GUIURL string         `validate:"required,url"`
	Queues []QueueMapping `validate:"required,min=1,dive"`

	ExecImage  string `validate:"required"`
	JudgeImage string `validate:"required"`

	DataLocalPath string `validate:"required"`
	DataHostPath  string
	Hostname      string `validate:"required"`
	DebugMode     bool

	PollInterval     time.Duration
	WallClockTimeout time.Duration
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration

	StageMemoryLimitMB int64
	ProcLimit          int64
	FileSizeLimitMB    int64
	NofileSoft         int64
	NofileHard         int64

	HelperPath   string
	CgroupRoot   string
	SeccompDir   string
	ProfilesPath string

	EnableNamespaces bool
	EnableCgroup     bool
	EnableSeccomp    bool
}

// FromEnv loads and validates the configuration from the recognized
// environment variables, applying defaults for everything optional.
func FromEnv() (Config, error) {
	cfg := Config{
		GUIURL:        os.Getenv("GUI_URL"),
		ExecImage:     os.Getenv("EXEC_IMAGE_NAME"),
		JudgeImage:    os.Getenv("JUDGE_IMAGE_NAME"),
		DataLocalPath: os.Getenv("WORKERS_DATA_LOCAL_PATH"),
		DataHostPath:  os.Getenv("WORKERS_DATA_HOST_PATH"),
		Hostname:      os.Getenv("HOSTNAME"),
		DebugMode:     os.Getenv("IS_DEBUG_MODE_ENABLED") == "true",

		PollInterval:     time.Duration(envInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		WallClockTimeout: time.Duration(envInt("WALL_CLOCK_TIMEOUT_SECONDS", 250)) * time.Second,
		ConnectTimeout:   time.Duration(envInt("HTTP_CONNECT_TIMEOUT_MS", 5000)) * time.Millisecond,
		ReadTimeout:      time.Duration(envInt("HTTP_READ_TIMEOUT_MS", 60000)) * time.Millisecond,

		StageMemoryLimitMB: envInt("CONTAINER_MEMORY_LIMIT_MB", 512),
		ProcLimit:          envInt("CONTAINER_PROC_LIMIT", 50),
		FileSizeLimitMB:    envInt("CONTAINER_FILE_SIZE_LIMIT_MB", 5120),
		NofileSoft:         envInt("CONTAINER_NOFILE_SOFT", 1024),
		NofileHard:         envInt("CONTAINER_NOFILE_HARD", 4096),

		HelperPath:   envString("SANDBOX_HELPER_PATH", "sandbox-init"),
		CgroupRoot:   envString("SANDBOX_CGROUP_ROOT", "/sys/fs/cgroup/judgeworker"),
		SeccompDir:   os.Getenv("SANDBOX_SECCOMP_DIR"),
		ProfilesPath: os.Getenv("LANGUAGE_PROFILES_PATH"),

		EnableNamespaces: envBool("SANDBOX_ENABLE_NAMESPACES", true),
		EnableCgroup:     envBool("SANDBOX_ENABLE_CGROUP", true),
		EnableSeccomp:    envBool("SANDBOX_ENABLE_SECCOMP", false),
	}
	if cfg.DataHostPath == "" {
		cfg.DataHostPath = cfg.DataLocalPath
	}
	if cfg.Hostname == "" {
		cfg.Hostname, _ = os.Hostname()
	}

	queues, err := parseQueueCompilerDict(os.Getenv("QUEUE_COMPILER_DICT"))
	if err != nil {
		return Config{}, err
	}
	cfg.Queues = queues

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.FatalConfigInvalid)
	}
	return cfg, nil
}

// parseQueueCompilerDict decodes the QUEUE_COMPILER_DICT JSON object while
// preserving its key order, which encoding/json's map decoding would
// destroy. Iteration order is part of the contract: the first queue
// returning a submission wins. Values must be strings; anything else is
// rejected at load.
func parseQueueCompilerDict(raw string) ([]QueueMapping, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.Newf(errors.FatalConfigInvalid, "QUEUE_COMPILER_DICT is not set")
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, errors.FatalConfigInvalid)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.Newf(errors.FatalConfigInvalid, "QUEUE_COMPILER_DICT must be a JSON object")
	}

	var queues []QueueMapping
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, errors.FatalConfigInvalid)
		}
		queue, ok := keyTok.(string)
		if !ok {
			return nil, errors.Newf(errors.FatalConfigInvalid, "QUEUE_COMPILER_DICT has a non-string key")
		}
		var image string
		if err := dec.Decode(&image); err != nil {
			return nil, errors.Newf(errors.FatalConfigInvalid, "QUEUE_COMPILER_DICT value for %q is not a string", queue)
		}
		queues = append(queues, QueueMapping{Queue: queue, CompilerImage: image})
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, errors.FatalConfigInvalid)
	}
	if len(queues) == 0 {
		return nil, errors.Newf(errors.FatalConfigInvalid, "QUEUE_COMPILER_DICT names no queues")
	}
	return queues, nil
}

// ToEngineConfig converts the worker configuration into the sandbox
// engine's own config struct.
func (c Config) ToEngineConfig() engine.Config {
	return engine.Config{
		CgroupRoot:       c.CgroupRoot,
		SeccompDir:       c.SeccompDir,
		HelperPath:       c.HelperPath,
		EnableSeccomp:    c.EnableSeccomp,
		EnableCgroup:     c.EnableCgroup,
		EnableNamespaces: c.EnableNamespaces,
		ProcLimit:        c.ProcLimit,
		FileSizeLimitMB:  c.FileSizeLimitMB,
		NofileSoft:       c.NofileSoft,
		NofileHard:       c.NofileHard,
	}
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int64) int64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	return v == "true"
}
