// Package gologger resolves the loggers used across the integration
// components and bridges them to go-job workers.
package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootName = "integrations"

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(ComponentName(name), provider, logger)
}

// ComponentName namespaces a component under the integrations root, so
// "webhooks" becomes "integrations.webhooks".
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" || component == RootName || strings.HasPrefix(component, RootName+".") {
		if component == "" {
			return RootName
		}
		return component
	}
	return RootName + "." + component
}

// Component returns the named logger for one subsystem.
func Component(provider glog.LoggerProvider, logger glog.Logger, component string) glog.Logger {
	_, resolved := Resolve(component, provider, logger)
	return resolved
}

func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves the worker logger and returns the go-job bridges.
func ResolveForJob(
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve("worker", provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
