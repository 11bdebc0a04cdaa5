package integrity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CollectIDs gathers entity ids and reference targets from a set of artifact
// files. JSON documents and JSONL files both parse; within any object, "id"
// declares an entity while "target" and every element of "targets" declare
// references. Nesting is walked fully.
func CollectIDs(paths []string) (entityIDs, targetIDs []string, err error) {
	for _, path := range paths {
		values, err := decodeArtifact(path)
		if err != nil {
			return nil, nil, err
		}
		for _, v := range values {
			walk(v, &entityIDs, &targetIDs)
		}
	}
	return entityIDs, targetIDs, nil
}

func decodeArtifact(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		var values []any
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(line), &v); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			values = append(values, v)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return values, nil
	}

	var v any
	if err := json.NewDecoder(f).Decode(&v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return []any{v}, nil
}

func walk(v any, entityIDs, targetIDs *[]string) {
	switch node := v.(type) {
	case map[string]any:
		if id, ok := idString(node["id"]); ok {
			*entityIDs = append(*entityIDs, id)
		}
		if id, ok := idString(node["target"]); ok {
			*targetIDs = append(*targetIDs, id)
		}
		if list, ok := node["targets"].([]any); ok {
			for _, t := range list {
				if id, ok := idString(t); ok {
					*targetIDs = append(*targetIDs, id)
				}
			}
		}
		for key, child := range node {
			if key == "target" || key == "targets" {
				continue
			}
			walk(child, entityIDs, targetIDs)
		}
	case []any:
		for _, child := range node {
			walk(child, entityIDs, targetIDs)
		}
	}
}

func idString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	}
	return "", false
}

// AppendStubs adds stub entities to an entity artifact so every target
// dereferences. JSONL artifacts get one appended line per stub; JSON array
// artifacts are rewritten with the stubs appended.
func AppendStubs(path string, stubs []Stub) error {
	if len(stubs) == 0 {
		return nil
	}

	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open entity artifact: %w", err)
		}
		defer f.Close()
		for _, stub := range stubs {
			line, err := json.Marshal(stub)
			if err != nil {
				return fmt.Errorf("marshal stub: %w", err)
			}
			if _, err := f.Write(append(line, '\n')); err != nil {
				return fmt.Errorf("append stub: %w", err)
			}
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read entity artifact: %w", err)
	}
	var entities []any
	if err := json.Unmarshal(data, &entities); err != nil {
		return fmt.Errorf("parse entity artifact %s: expected a JSON array: %w", path, err)
	}
	for _, stub := range stubs {
		entities = append(entities, stub)
	}
	out, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("rewrite entity artifact: %w", err)
	}
	return nil
}
