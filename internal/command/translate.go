// Package command rewrites shell commands authored for one OS convention
// into their Linux equivalents before they are stored in a deployment plan.
package command

import (
	"regexp"
	"strings"
)

// executables maps OS specific executable spellings to their Linux form.
// Replacement operates on whole tokens so already translated commands
// pass through unchanged.
var executables = map[string]string{
	"python":        "python3",
	"py":            "python3",
	"pip":           "pip3",
	"python.exe":    "python3",
	"py.exe":        "python3",
	"pip.exe":       "pip3",
	"node.exe":      "node",
	"npm.exe":       "npm",
	"dotnet.exe":    "dotnet",
	"java.exe":      "java",
	"mvn.cmd":       "mvn",
	"gradle.bat":    "gradle",
	"composer.phar": "composer",
	"bundle.exe":    "bundle",
	"cargo.exe":     "cargo",
	"go.exe":        "go",
	"php.exe":       "php",
	"ruby.exe":      "ruby",
	"rails.exe":     "rails",
}

// drivePrefix matches a drive letter at the start of a path segment, e.g.
// "C:/" or "d:\". Schemes such as "http://" are left alone because they are
// never a single letter.
var drivePrefix = regexp.MustCompile(`(^|\s)[A-Za-z]:/`)

// Translate rewrites a command for the Linux execution environment. It is a
// total function and idempotent: re-running yields the same string.
func Translate(cmd string) string {
	if cmd == "" {
		return cmd
	}
	tokens := strings.Split(cmd, " ")
	for i, tok := range tokens {
		if repl, ok := executables[strings.ToLower(tok)]; ok {
			tokens[i] = repl
		}
	}
	out := strings.Join(tokens, " ")
	out = strings.ReplaceAll(out, `\`, "/")
	out = drivePrefix.ReplaceAllString(out, "$1/")
	return out
}

// TranslateAll rewrites every command in a list.
func TranslateAll(cmds []string) []string {
	if len(cmds) == 0 {
		return cmds
	}
	out := make([]string, len(cmds))
	for i, cmd := range cmds {
		out[i] = Translate(cmd)
	}
	return out
}
