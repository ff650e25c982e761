package config

import "strings"

// normalize expands user paths and trims string options before validation.
func (c *Config) normalize() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Fetcher.CookiesFile != "" {
		if c.Fetcher.CookiesFile, err = expandPath(c.Fetcher.CookiesFile); err != nil {
			return err
		}
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Transcriber.Model = strings.TrimSpace(c.Transcriber.Model)
	c.Transcriber.Device = strings.ToLower(strings.TrimSpace(c.Transcriber.Device))
	c.Transcriber.ComputeType = strings.TrimSpace(c.Transcriber.ComputeType)
	c.Transcriber.HFToken = strings.TrimSpace(c.Transcriber.HFToken)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}
