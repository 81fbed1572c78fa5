package config

import "time"

// Config holds runtime configuration for the skylift deployment service.
// It is constructed once at process start and passed into every component.
type Config struct {
	Environment string
	Addr        string

	// Cloud target.
	AWSRegion        string
	ImageID          string
	InstanceType     string
	KeyName          string
	SecurityGroupIDs []string
	AvailabilityZone string
	Bucket           string

	// Remote execution.
	SSHUser           string
	KeyFileCandidates []string
	RemoteRoot        string
	SSHAttempts       int
	SSHBackoff        time.Duration
	SSHTimeout        time.Duration
	ExecTimeout       time.Duration

	// Launch strategy: "bootstrap" (user-data script) or "direct" (SSH exec).
	LaunchStrategy string

	// Caller supplied instance to reuse instead of provisioning.
	ExistingInstanceID string
	ExistingInstanceIP string

	// Provisioning waits.
	RunningWait  time.Duration
	HealthWait   time.Duration
	GraceDelay   time.Duration
	PollInterval time.Duration

	// Readiness verification.
	VerifyMaxWait  time.Duration
	VerifyInterval time.Duration

	// Remote inference.
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string
	LLMTimeout time.Duration

	// HTTP surface.
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	DeployRateLimit int
}

// Load constructs a Config from environment variables.
func Load() Config {
	return Config{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("SKYLIFT_ADDR", ":8080"),
		AWSRegion:         GetString("AWS_REGION", "ap-south-2"),
		ImageID:           GetString("SKYLIFT_IMAGE_ID", "ami-0bd4cda58efa33d23"),
		InstanceType:      GetString("SKYLIFT_INSTANCE_TYPE", "t3.large"),
		KeyName:           GetString("SKYLIFT_KEY_NAME", "skylift"),
		SecurityGroupIDs:  GetStringSlice("SKYLIFT_SECURITY_GROUPS", nil),
		AvailabilityZone:  GetString("SKYLIFT_AVAILABILITY_ZONE", ""),
		Bucket:            GetString("SKYLIFT_BUCKET", "skylift-deployments"),
		SSHUser:           GetString("SKYLIFT_SSH_USER", "ubuntu"),
		KeyFileCandidates: GetStringSlice("SKYLIFT_KEY_FILES", nil),
		RemoteRoot:        GetString("SKYLIFT_REMOTE_ROOT", "/home/ubuntu"),
		SSHAttempts:       GetInt("SKYLIFT_SSH_ATTEMPTS", 3),
		SSHBackoff:        time.Duration(GetInt("SKYLIFT_SSH_BACKOFF_SECONDS", 10)) * time.Second,
		SSHTimeout:        time.Duration(GetInt("SKYLIFT_SSH_TIMEOUT_SECONDS", 30)) * time.Second,
		ExecTimeout:       time.Duration(GetInt("SKYLIFT_EXEC_TIMEOUT_SECONDS", 300)) * time.Second,
		LaunchStrategy:    GetString("SKYLIFT_LAUNCH_STRATEGY", "bootstrap"),

		ExistingInstanceID: GetString("SKYLIFT_EXISTING_INSTANCE_ID", ""),
		ExistingInstanceIP: GetString("SKYLIFT_EXISTING_INSTANCE_IP", ""),

		RunningWait:  time.Duration(GetInt("SKYLIFT_RUNNING_WAIT_SECONDS", 300)) * time.Second,
		HealthWait:   time.Duration(GetInt("SKYLIFT_HEALTH_WAIT_SECONDS", 180)) * time.Second,
		GraceDelay:   time.Duration(GetInt("SKYLIFT_GRACE_DELAY_SECONDS", 30)) * time.Second,
		PollInterval: time.Duration(GetInt("SKYLIFT_POLL_INTERVAL_SECONDS", 10)) * time.Second,

		VerifyMaxWait:  time.Duration(GetInt("SKYLIFT_VERIFY_MAX_WAIT_SECONDS", 300)) * time.Second,
		VerifyInterval: time.Duration(GetInt("SKYLIFT_VERIFY_INTERVAL_SECONDS", 15)) * time.Second,

		LLMBaseURL: GetString("SKYLIFT_LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModel:   GetString("SKYLIFT_LLM_MODEL", "qwen/qwen-2.5-72b-instruct:free"),
		LLMAPIKey:  GetString("SKYLIFT_LLM_API_KEY", ""),
		LLMTimeout: time.Duration(GetInt("SKYLIFT_LLM_TIMEOUT_SECONDS", 30)) * time.Second,

		RedisAddr:       GetString("REDIS_ADDR", ""),
		RedisPassword:   GetString("REDIS_PASSWORD", ""),
		RedisDB:         GetInt("REDIS_DB", 0),
		DeployRateLimit: GetInt("SKYLIFT_DEPLOY_RATE_LIMIT", 10),
	}
}
