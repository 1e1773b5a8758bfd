package logger

import (
	"runtime"
	"strings"
)

type PackageNameResolver struct {
	BasePackage string
	Depth       int
}

// PackageName returns the package of the caller relative to BasePackage, or
// the full package path when the caller lives outside of it.
func (r *PackageNameResolver) PackageName() string {
	pc, _, _, _ := runtime.Caller(r.depth())
	// For example: github.com/fbas-tools/analyzer/internal/pipeline.init
	funcName := runtime.FuncForPC(pc).Name()
	if _, after, found := strings.Cut(funcName, r.BasePackage); found {
		funcName = after
	}
	// the last path element may contain dots only after the package name
	lastSlash := strings.LastIndex(funcName, "/")
	if dot := strings.Index(funcName[lastSlash+1:], "."); dot >= 0 {
		funcName = funcName[:lastSlash+1+dot]
	}
	return strings.Trim(funcName, "/")
}

func (r *PackageNameResolver) depth() int {
	// 2 because it's used from inside logging code. We want the caller of that.
	if r.Depth == 0 {
		return 2
	}
	return r.Depth
}
