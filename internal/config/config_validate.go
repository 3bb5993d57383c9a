// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/evilkost/mixgene-notify/internal/logging"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// structValidator returns the shared validator. Field names are reported by
// their koanf key so errors can be mapped back to environment variables.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("koanf"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return translateValidationError(err)
	}

	checks := []func() error{
		c.validateServer,
		c.validateBroker,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	prefix := c.Server.PathPrefix
	if prefix == "" {
		return nil
	}
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("SUBSCRIBE_PREFIX must start with '/', got %q", prefix)
	}
	if strings.HasSuffix(prefix, "/") {
		return fmt.Errorf("SUBSCRIBE_PREFIX must not end with '/', got %q", prefix)
	}
	return nil
}

func (c *Config) validateBroker() error {
	b := c.Broker
	if b.Backend == "nats" && !b.Embedded && b.URL == "" {
		return errors.New("NATS_URL is required when BROKER_BACKEND=nats and NATS_EMBEDDED=false")
	}
	if b.Backend == "redis" && b.RedisURL == "" {
		return errors.New("REDIS_URL is required when BROKER_BACKEND=redis")
	}
	if b.Username != "" && b.Password == "" {
		return errors.New("NATS_PASSWORD is required when NATS_USER is set")
	}
	if b.Token != "" && b.Username != "" {
		return errors.New("NATS_TOKEN and NATS_USER are mutually exclusive")
	}
	if strings.IndexFunc(b.SubjectPrefix, unicode.IsSpace) >= 0 {
		return fmt.Errorf("NATS_SUBJECT_PREFIX must not contain whitespace, got %q", b.SubjectPrefix)
	}
	if b.SubjectPrefix != "" && (strings.HasPrefix(b.SubjectPrefix, ".") || strings.HasSuffix(b.SubjectPrefix, ".")) {
		return fmt.Errorf("NATS_SUBJECT_PREFIX must not start or end with '.', got %q", b.SubjectPrefix)
	}
	if b.Embedded && b.EmbeddedHost == "" {
		return errors.New("NATS_EMBEDDED_HOST is required when NATS_EMBEDDED=true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, panic, disabled; got %q", c.Logging.Level)
	}
	return nil
}

// translateValidationError rewrites validator errors in terms of the
// environment variables an operator would set.
func translateValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := strings.TrimPrefix(fe.Namespace(), "Config.")
		name := path
		if envName := envNameFor(path); envName != "" {
			name = envName
		}
		msgs = append(msgs, describeFieldError(name, fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describeFieldError(name string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", name, fe.Param(), fe.Value())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("%s failed %s=%s, got %v", name, fe.Tag(), fe.Param(), fe.Value())
	case "excludesall":
		return fmt.Sprintf("%s must not contain any of %q", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
	}
}
