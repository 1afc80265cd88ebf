package config

import "errors"

// PropertiesFileEnvVar names the YAML properties file when --properties is not given.
const PropertiesFileEnvVar = "PROPERTIES_FILE"

type Config interface {
	EnvConfig
	SsoConfig
	SessionConfig
	RoutesConfig
	ProxyConfig
	ExpiryConfig
	Validate() error
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	IsDev() bool
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Sso
	Session
	Routes
	Proxy
	Expiry
}

// New reads configuration from the environment only.
func New() Config {
	return newConfig(&source{})
}

// Load reads configuration from the environment, falling back to the YAML
// properties file at path. An empty path falls back to PROPERTIES_FILE.
func Load(path string) (Config, error) {
	if path == "" {
		path = GetEnv(PropertiesFileEnvVar, "")
	}
	src := &source{}
	if path != "" {
		props, err := loadProperties(path)
		if err != nil {
			return nil, err
		}
		src.props = props
	}
	return newConfig(src), nil
}

func newConfig(src *source) mainConfig {
	env := EnvVars{src: src}
	return mainConfig{
		EnvVars: env,
		Sso:     Sso{src: src},
		Session: Session{src: src, env: env},
		Routes:  Routes{src: src},
		Proxy:   Proxy{src: src},
		Expiry:  Expiry{src: src},
	}
}

// Validate reports every missing or malformed required value.
func (c mainConfig) Validate() error {
	_, proxyErr := c.GetProxyRoutes()
	return errors.Join(c.Sso.validate(), c.Session.validate(), proxyErr)
}
