package clusterenv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv() map[string]string {
	return map[string]string{
		"job_id":    "1234",
		"num_nodes": "5",
		"node_list": "node03,node01,node02,node04,node05",
		"node_name": "node03",
		"timestamp": "1700000000",
	}
}

func TestDecodeHappyPath(t *testing.T) {
	p, err := Decode(validEnv())
	require.NoError(t, err)
	assert.Equal(t, 1234, p.JobID)
	assert.Equal(t, 5, p.NumNodes)
	assert.Equal(t, []string{"node01", "node02", "node03", "node04", "node05"}, p.NodeList)
	assert.Equal(t, 2, p.NodeIndex) // node03 sorts to index 2
}

func TestDecodeMissingRequiredKey(t *testing.T) {
	for _, key := range []string{"job_id", "num_nodes", "node_list", "node_name", "timestamp"} {
		env := validEnv()
		delete(env, key)
		_, err := Decode(env)
		assert.Error(t, err, "missing %s should fail", key)
	}
}

func TestDecodeNodeListLengthMismatch(t *testing.T) {
	env := validEnv()
	env["num_nodes"] = "3"
	_, err := Decode(env)
	assert.Error(t, err)
}

func TestDecodeNodeNameNotInList(t *testing.T) {
	env := validEnv()
	env["node_name"] = "node99"
	_, err := Decode(env)
	assert.Error(t, err)
}

func TestIncludesIndexPartitionsCoverEveryPointDisjointly(t *testing.T) {
	const volume = 12
	const numNodes = 5

	covered := make(map[int]int)
	for node := 0; node < numNodes; node++ {
		p := &Params{NumNodes: numNodes, NodeIndex: node}
		for i := 0; i < volume; i++ {
			if p.IncludesIndex(i) {
				covered[i]++
			}
		}
	}

	for i := 0; i < volume; i++ {
		assert.Equal(t, 1, covered[i], "index %d should be covered exactly once", i)
	}
}

func TestIncludesIndexNodeZeroMatchesSpecExample(t *testing.T) {
	p := &Params{NumNodes: 5, NodeIndex: 0}
	var got []int
	for i := 0; i < 12; i++ {
		if p.IncludesIndex(i) {
			got = append(got, i)
		}
	}
	assert.Equal(t, []int{0, 5, 10}, got)
}

func TestDecodeParsesAdditionalRunDirFstrs(t *testing.T) {
	env := validEnv()
	env["additional_run_dir_fstrs"] = "foo,bar"
	p, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "bar"}, p.AdditionalRunDirFstrs)
}

func TestDecodeAdditionalRunDirFstrsAbsentIsNil(t *testing.T) {
	p, err := Decode(validEnv())
	require.NoError(t, err)
	assert.Nil(t, p.AdditionalRunDirFstrs)
}
