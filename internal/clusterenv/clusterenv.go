// Package clusterenv decodes the opaque cluster-environment mapping into the
// node-assignment tuple described in spec.md §6. This is a pure function;
// the environment itself (variable names per scheduler) is resolved by the
// caller, matching the original's indirection through a per-manager
// env_var_names mapping in multiverse.py:_resolve_cluster_params.
package clusterenv

import (
	"fmt"
	"sort"
)

// Params is the resolved cluster-partitioning input (spec §6).
type Params struct {
	JobID                 int
	NumNodes              int
	NodeList              []string
	NodeName              string
	NodeIndex             int
	Timestamp             int64
	CustomOutDir          string
	AdditionalRunDirFstrs []string
}

// requiredKeys are the env keys that must be present and non-empty; see
// spec §6: "Missing required keys fail the run."
var requiredKeys = []string{"job_id", "num_nodes", "node_list", "node_name", "timestamp"}

// Decode resolves env (a pre-mapped key -> value view of the environment,
// e.g. already translated from scheduler-specific variable names such as
// SLURM_JOB_ID) into Params.
func Decode(env map[string]string) (*Params, error) {
	for _, k := range requiredKeys {
		if env[k] == "" {
			return nil, fmt.Errorf("clusterenv: missing required key %q", k)
		}
	}

	jobID, err := parseInt(env["job_id"])
	if err != nil {
		return nil, fmt.Errorf("clusterenv: invalid job_id: %w", err)
	}

	numNodes, err := parseInt(env["num_nodes"])
	if err != nil {
		return nil, fmt.Errorf("clusterenv: invalid num_nodes: %w", err)
	}
	if numNodes < 1 {
		return nil, fmt.Errorf("clusterenv: num_nodes must be >= 1, got %d", numNodes)
	}

	nodeList, err := parseNodeList(env["node_list"])
	if err != nil {
		return nil, err
	}
	if len(nodeList) != numNodes {
		return nil, fmt.Errorf("clusterenv: node_list has %d entries but num_nodes is %d", len(nodeList), numNodes)
	}

	nodeName := env["node_name"]
	idx := indexOf(nodeList, nodeName)
	if idx < 0 {
		return nil, fmt.Errorf("clusterenv: node_name %q is not part of node_list %v", nodeName, nodeList)
	}

	timestamp, err := parseInt64(env["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("clusterenv: invalid timestamp: %w", err)
	}

	p := &Params{
		JobID:                 jobID,
		NumNodes:              numNodes,
		NodeList:              nodeList,
		NodeName:              nodeName,
		NodeIndex:             idx,
		Timestamp:             timestamp,
		CustomOutDir:          env["custom_out_dir"],
		AdditionalRunDirFstrs: parseFstrs(env["additional_run_dir_fstrs"]),
	}
	return p, nil
}

// parseFstrs splits the optional, comma-separated additional_run_dir_fstrs
// key into its components (spec §6: cluster run-directory name gains
// "[_<extra>...]" segments beyond the timestamp). Empty or absent input
// yields no segments, matching every other optional key in this mapping.
func parseFstrs(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// IncludesIndex reports whether enumeration index i is owned by this node
// under the modulo-and-offset partition scheme (spec §1, §4.1, §8 law 7):
// (i - node_index) mod num_nodes == 0.
func (p *Params) IncludesIndex(i int) bool {
	m := (i - p.NodeIndex) % p.NumNodes
	if m < 0 {
		m += p.NumNodes
	}
	return m == 0
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

func parseNodeList(raw string) ([]string, error) {
	// Caller is expected to have already expanded condensed node-range
	// notation (e.g. "node[002,004-011]") into a comma-separated list; this
	// package only sorts and validates, keeping the pure-function contract
	// of spec §6 (an opaque mapping resolved externally).
	var nodes []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				nodes = append(nodes, raw[start:i])
			}
			start = i + 1
		}
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("clusterenv: empty node_list")
	}
	sort.Strings(nodes)
	return nodes, nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseInt64(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
