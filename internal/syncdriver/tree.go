package syncdriver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zc-zkdeployment/agent/internal/zkcoord"
)

// treeEntry is one declared node: an absolute coordination-tree path and
// the properties it should carry. The on-disk format this package reads
// is a deliberately small rewrite of zc.zk's indentation-based
// import_tree() syntax: one line per node instead of nested indentation,
// since the canonical tree descriptions this driver imports are flat by
// construction (one line per deploy/app/host declaration).
//
//	/cust/app type="widget" version="1.2.3"
//	/cust/app/deploy/host-17
type treeEntry struct {
	Path  string
	Props zkcoord.Properties
}

// parseTree parses the contents of a single .zk or .zkx file into the
// ordered list of nodes it declares. Blank lines and lines starting with
// "#" are ignored.
func parseTree(contents string) ([]treeEntry, error) {
	var entries []treeEntry
	for n, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		path := fields[0]
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("syncdriver: line %d: path %q is not absolute", n+1, path)
		}
		props, err := parseProperties(fields[1:])
		if err != nil {
			return nil, fmt.Errorf("syncdriver: line %d: %w", n+1, err)
		}
		entries = append(entries, treeEntry{Path: path, Props: props})
	}
	return entries, nil
}

func parseProperties(fields []string) (zkcoord.Properties, error) {
	props := zkcoord.Properties{}
	for _, field := range fields {
		eq := strings.Index(field, "=")
		if eq <= 0 {
			return nil, fmt.Errorf("malformed property %q", field)
		}
		key, raw := field[:eq], field[eq+1:]
		props[key] = decodeScalar(strings.Trim(raw, `"`))
	}
	return props, nil
}

// decodeScalar gives bool and int values their native JSON-scalar type so
// properties written by the sync driver compare equal to properties
// written by the agent (zkcoord.Properties are JSON scalars throughout).
func decodeScalar(raw string) interface{} {
	switch raw {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

// applyOverlay creates or updates every node entries declares, without
// touching anything already present that entries doesn't mention — the
// ".zkx" semantics of §4.6.
func applyOverlay(client Coordinator, entries []treeEntry) error {
	for _, e := range entries {
		if err := upsertNode(client, e.Path, e.Props); err != nil {
			return err
		}
	}
	return nil
}

// applyImport creates or updates every node entries declares, then
// deletes every existing descendant of root that entries did not declare
// — the tree-trimming ".zk" semantics of §4.6. Deletions run
// deepest-path-first so a parent is never removed while it still has a
// child ZooKeeper would refuse to delete it for.
func applyImport(client Coordinator, root string, entries []treeEntry) error {
	if err := applyOverlay(client, entries); err != nil {
		return err
	}

	declared := map[string]bool{root: true}
	for _, e := range entries {
		addAncestors(declared, e.Path)
	}

	existing, err := listDescendants(client, root)
	if err != nil {
		return err
	}
	sort.Slice(existing, func(i, j int) bool { return len(existing[i]) > len(existing[j]) })
	for _, path := range existing {
		if declared[path] {
			continue
		}
		if err := client.Delete(path); err != nil {
			return fmt.Errorf("syncdriver: trim %s: %w", path, err)
		}
	}
	return nil
}

// addAncestors marks path and every one of its ancestors as declared, so
// an intermediate node implied by a deep declaration (e.g. the
// "/cust/app/deploy" parent of a declared "/cust/app/deploy/host-17") is
// never mistaken for an undeclared node and trimmed out from under its
// own child.
func addAncestors(declared map[string]bool, path string) {
	for path != "" {
		declared[path] = true
		idx := strings.LastIndex(path, "/")
		if idx <= 0 {
			break
		}
		path = path[:idx]
	}
}

func upsertNode(client Coordinator, path string, props zkcoord.Properties) error {
	if err := ensureAncestors(client, path); err != nil {
		return err
	}
	exists, err := client.Exists(path)
	if err != nil {
		return fmt.Errorf("syncdriver: check %s: %w", path, err)
	}
	if !exists {
		if _, err := client.Create(path, props, zkcoord.CreateOptions{}); err != nil {
			return fmt.Errorf("syncdriver: create %s: %w", path, err)
		}
		return nil
	}
	if err := client.SetProperties(path, props); err != nil {
		return fmt.Errorf("syncdriver: update %s: %w", path, err)
	}
	return nil
}

// ensureAncestors creates every missing ancestor of path with empty
// properties, since a tree description may declare a deep node (e.g. a
// deploy/<host> selector) before its owning app node exists.
func ensureAncestors(client Coordinator, path string) error {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	current := ""
	for _, part := range parts[:len(parts)-1] {
		current += "/" + part
		exists, err := client.Exists(current)
		if err != nil {
			return fmt.Errorf("syncdriver: check %s: %w", current, err)
		}
		if !exists {
			if _, err := client.Create(current, zkcoord.Properties{}, zkcoord.CreateOptions{}); err != nil {
				if _, ok := err.(*zkcoord.NodeExistsError); !ok {
					return fmt.Errorf("syncdriver: create %s: %w", current, err)
				}
			}
		}
	}
	return nil
}

func listDescendants(client Coordinator, root string) ([]string, error) {
	var out []string
	children, err := client.GetChildren(root)
	if err != nil {
		if _, ok := err.(*zkcoord.NoNodeError); ok {
			return nil, nil
		}
		return nil, err
	}
	for _, child := range children {
		path := root + "/" + child
		out = append(out, path)
		grandchildren, err := listDescendants(client, path)
		if err != nil {
			return nil, err
		}
		out = append(out, grandchildren...)
	}
	return out, nil
}
