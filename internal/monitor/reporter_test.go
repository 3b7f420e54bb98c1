package monitor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/matrix"
	"github.com/OpenAstroTech/OpenAstroTracker-Firmware/internal/model"
)

func TestReporterReport(t *testing.T) {
	catalog, err := matrix.Default()
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	r := NewReporter(&stdout, &stderr, catalog, zaptest.NewLogger(t))

	solution := model.Solution{
		{Name: model.BoardVariable, Value: "esp32"},
		{Name: "USE_GPS", Value: "0"},
	}
	config := "#pragma once\n\n#define USE_GPS 0\n"
	r.Report(&model.BuildFailure{
		Result:     &model.BuildResult{Board: "esp32", Solution: solution, ExitCode: 7},
		Dir:        "/tmp/matrixbuild-1",
		ConfigPath: "/tmp/matrixbuild-1/Configuration_local_matrix.hpp",
		Config:     []byte(config),
		Stdout:     []byte("Compiling .pio/build/esp32/src/a.o"),
		Stderr:     []byte("src/a.cpp:1: error"),
	})

	assert.Equal(t,
		"Error for the following configuration (/tmp/matrixbuild-1):\n"+
			"src/a.cpp:1: error\n",
		stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "| esp32")
	assert.Contains(t, out, "DISABLED")
	assert.Contains(t, out, "/tmp/matrixbuild-1/Configuration_local_matrix.hpp:\n"+config+"\n")
	assert.True(t, strings.HasSuffix(out, "Compiling .pio/build/esp32/src/a.o\n"))
	assert.Less(t, strings.Index(out, "+--"), strings.Index(out, "Configuration_local_matrix.hpp:"),
		"matrix is printed before the header")
}

func TestReporterReportWithoutOutput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := NewReporter(&stdout, &stderr, nil, zaptest.NewLogger(t))

	r.Report(&model.BuildFailure{Dir: "/ws", ConfigPath: "/ws/Configuration_local_matrix.hpp"})
	assert.Equal(t, "Error for the following configuration (/ws):\n", stderr.String())
	assert.Equal(t, "/ws/Configuration_local_matrix.hpp:\n\n", stdout.String())
}

func TestReporterSummary(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := NewReporter(&stdout, &stderr, nil, zaptest.NewLogger(t))

	r.Summary(model.Progress{Total: 6, Started: 5, Built: 3, Failed: 2}, []*model.BuildResult{
		{Executor: 1, Board: "ramps", ExitCode: 3, Solution: model.Solution{{Name: "BOARD", Value: "ramps"}}},
		{Executor: 0, Board: "esp32", ExitCode: 5, Solution: model.Solution{{Name: "BOARD", Value: "esp32"}}},
	})

	assert.Equal(t, "Done! built 3, failed 2, skipped 1 of 6\n", stdout.String())
	assert.Equal(t,
		"2 build(s) failed:\n"+
			"  [executor 1] ramps exited with 3: BOARD=ramps\n"+
			"  [executor 0] esp32 exited with 5: BOARD=esp32\n",
		stderr.String())
}
