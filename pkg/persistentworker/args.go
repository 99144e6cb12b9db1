package persistentworker

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// PersistentWorkerFlag is the flag Bazel passes to start a worker in
// persistent mode.
const PersistentWorkerFlag = "--persistent_worker"

// ParseArgs processes command arguments by expanding an argfile and extracting
// the persistent_worker flag. It returns the processed argument slice and
// a boolean indicating whether the persistent_worker flag was set.
//
// In persistent mode the argfile is left alone: Bazel passes the startup
// flags directly and expands per-request argfiles itself.
func ParseArgs(args []string) ([]string, bool, error) {
	processedArgs, isPersistentWorker := extractPersistentWorkerFlag(args)
	if isPersistentWorker {
		return processedArgs, true, nil
	}

	expandedArgs, err := expandArgfile(processedArgs)
	if err != nil {
		return nil, false, err
	}
	return expandedArgs, false, nil
}

// extractPersistentWorkerFlag searches for and removes the --persistent_worker flag.
// Returns the remaining args and whether the flag was found.
func extractPersistentWorkerFlag(args []string) ([]string, bool) {
	found := false
	rest := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == PersistentWorkerFlag {
			found = true
			continue
		}
		rest = append(rest, arg)
	}
	return rest, found
}

// expandArgfile replaces a single @path (or @@path) argument with the
// arguments read from the file. Only one argfile is supported.
func expandArgfile(args []string) ([]string, error) {
	at := -1
	for i, arg := range args {
		if !strings.HasPrefix(arg, "@") {
			continue
		}
		if at != -1 {
			return nil, fmt.Errorf("multiple argfiles not supported")
		}
		at = i
	}
	if at == -1 {
		return args, nil
	}

	path := strings.TrimPrefix(strings.TrimPrefix(args[at], "@"), "@")
	fileArgs, err := readArgfile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read argfile %s: %w", path, err)
	}

	expanded := make([]string, 0, len(args)-1+len(fileArgs))
	expanded = append(expanded, args[:at]...)
	expanded = append(expanded, fileArgs...)
	expanded = append(expanded, args[at+1:]...)
	return expanded, nil
}

// readArgfile reads arguments from a file, one per line.
// Empty lines and lines starting with # are ignored.
func readArgfile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var args []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args = append(args, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return args, nil
}
