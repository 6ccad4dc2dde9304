package container

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseImagesDedupsAcrossRows(t *testing.T) {
	data := []byte(`[{"Names":["a:latest","a:1.0"]},{"Names":["b:latest"]}]`)
	images, err := parseImages(data)
	require.NoError(t, err)
	require.True(t, images["a:latest"])
	require.True(t, images["a:1.0"])
	require.True(t, images["b:latest"])
	require.Len(t, images, 3)
}

func TestParseNetworks(t *testing.T) {
	data := []byte(`[{"Name":"ag-net-0"},{"Name":"podman"}]`)
	nets, err := parseNetworks(data)
	require.NoError(t, err)
	require.True(t, nets["ag-net-0"])
	require.True(t, nets["podman"])
}

func TestParsePS(t *testing.T) {
	data := []byte(`[{"Names":["runner0"],"State":"running","Status":"Up 2 minutes","AutoRemove":true,"Exited":false}]`)
	rows, err := parsePS(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "running", rows[0].State)
	require.Equal(t, []string{"runner0"}, rows[0].Names)
}

func TestStartDetachedArgsIncludesMountsAndKeepAliveCommand(t *testing.T) {
	args := startDetachedArgs(StartDetachedSpec{
		Image:   "autograder-base:latest",
		Name:    "runner0",
		Network: "ag-net-0",
		Mounts: []Mount{
			{Host: "/ws/build", Mount: "/root/graded_solution", Flags: "ro"},
			{Host: "/ws/tests", Mount: "/root/tests", Flags: "rw"},
		},
	})

	require.Contains(t, args, "--name")
	require.Contains(t, args, "runner0")
	require.Contains(t, args, "-v")
	require.Contains(t, args, "/ws/build:/root/graded_solution:ro")
	require.Contains(t, args, "/ws/tests:/root/tests:rw")
	require.Equal(t, "bash", args[len(args)-3])
	require.Equal(t, "while true; do sleep 1; done", args[len(args)-1])
}
