package environment

import (
	"context"
)

type contextKey int

const (
	envKey contextKey = iota
	versionKey
	buildTimeKey
)

// CtxWithEnv returns a copy of ctx carrying the environment.
func CtxWithEnv(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, envKey, env)
}

// EnvFromCtx returns the environment stored in ctx, Local when absent.
func EnvFromCtx(ctx context.Context) Env {
	if env, ok := ctx.Value(envKey).(Env); ok {
		return env
	}
	return Local
}

// CtxWithVersion returns a copy of ctx carrying the build version.
func CtxWithVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey, version)
}

// VersionFromCtx returns the build version stored in ctx.
func VersionFromCtx(ctx context.Context) string {
	if version, ok := ctx.Value(versionKey).(string); ok {
		return version
	}
	return "unknown"
}

// CtxWithBuildTime returns a copy of ctx carrying the build time.
func CtxWithBuildTime(ctx context.Context, buildTime string) context.Context {
	return context.WithValue(ctx, buildTimeKey, buildTime)
}

// BuildTimeFromCtx returns the build time stored in ctx.
func BuildTimeFromCtx(ctx context.Context) string {
	if buildTime, ok := ctx.Value(buildTimeKey).(string); ok {
		return buildTime
	}
	return "unknown"
}
