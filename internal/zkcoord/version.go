package zkcoord

import "encoding/json"

func jsonStringify(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// ClusterVersion is the opaque scalar stored at /hosts.version. The source
// system treats the JSON literal null and the JSON literal false
// equivalently for gating purposes but differently elsewhere (DESIGN.md
// Open Questions, §9 OQ3); IsAllStop captures the "gating" reading, while
// Raw preserves the original value so callers that care about the
// distinction (none currently do, but a future role controller might) can
// still see it.
type ClusterVersion struct {
	Raw interface{}
}

// NewClusterVersion extracts the "version" property from host-tree
// properties, defaulting to an ALL-STOP nil when the key is absent.
func NewClusterVersion(props Properties) ClusterVersion {
	return ClusterVersion{Raw: props["version"]}
}

// IsAllStop reports whether this version represents the cluster-wide "ALL
// STOP" convention: the property is JSON null or JSON false.
func (v ClusterVersion) IsAllStop() bool {
	if v.Raw == nil {
		return true
	}
	b, ok := v.Raw.(bool)
	return ok && !b
}

// Equal reports whether two cluster versions denote the same desired state.
// Two ALL-STOP values are always equal to each other regardless of whether
// one was null and the other false.
func (v ClusterVersion) Equal(other ClusterVersion) bool {
	if v.IsAllStop() && other.IsAllStop() {
		return true
	}
	return v.Raw == other.Raw
}

func (v ClusterVersion) String() string {
	if v.IsAllStop() {
		return "<ALL-STOP>"
	}
	switch r := v.Raw.(type) {
	case string:
		return r
	default:
		return jsonStringify(r)
	}
}
