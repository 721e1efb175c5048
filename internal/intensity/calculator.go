// Package intensity derives I/O-intensity scalars and vectors from the
// four correlated time series the metric proxy models for a job.
package intensity

import (
	"context"
	"strconv"

	"github.com/admire-eurohpc/malleability-manager/internal/telemetry"
)

const (
	metricMPIWaitTime  = "mpi___time___mpi_wtime"
	metricWalltime     = "walltime"
	metricBytesRead    = `proxy_network_receive_bytes_total{interface="ibs1"}`
	metricBytesWritten = `proxy_network_transmit_bytes_total{interface="ibs1"}`
)

// proxy is the subset of telemetry.Client the calculator depends on.
type proxy interface {
	ModelFor(ctx context.Context, jobID, metric string, start, end, step float64) ([]telemetry.Sample, error)
}

// Calculator derives I/O intensity vectors and scalars for a query job id
// and window, from its MPI wait time, walltime and network byte counter
// series. No smoothing, interpolation or outlier rejection is performed.
type Calculator struct {
	proxy proxy
}

// New builds a Calculator against the given telemetry client.
func New(proxy proxy) *Calculator {
	return &Calculator{proxy: proxy}
}

// Vector computes the I/O intensity vector for jobID over [start, end)
// stepped by step. It returns nil (absent) if any of the four underlying
// metric series is absent.
//
// All four series are assumed aligned in length; this implementation does
// not enforce alignment. If the proxy ever returns series of differing
// length, the element-wise loop below truncates to the shortest one.
func (c *Calculator) Vector(ctx context.Context, jobID string, start, end, step float64) ([]float64, error) {
	ioTimes, err := c.floats(ctx, jobID, metricMPIWaitTime, start, end, step)
	if err != nil || ioTimes == nil {
		return nil, err
	}
	totalTimes, err := c.floats(ctx, jobID, metricWalltime, start, end, step)
	if err != nil || totalTimes == nil {
		return nil, err
	}
	readBytes, err := c.floats(ctx, jobID, metricBytesRead, start, end, step)
	if err != nil || readBytes == nil {
		return nil, err
	}
	writtenBytes, err := c.floats(ctx, jobID, metricBytesWritten, start, end, step)
	if err != nil || writtenBytes == nil {
		return nil, err
	}

	n := len(ioTimes)
	for _, series := range [][]float64{totalTimes, readBytes, writtenBytes} {
		if len(series) < n {
			n = len(series)
		}
	}

	intensities := make([]float64, n)
	for i := 0; i < n; i++ {
		fractionIO := ioTimes[i] / totalTimes[i]
		bandwidth := (readBytes[i] + writtenBytes[i]) / ioTimes[i]
		intensities[i] = fractionIO * bandwidth
	}
	return intensities, nil
}

// Scalar computes the single I/O intensity of jobID at size, i.e. the
// first (only) element of the vector over window [size, size+1) step 1.
// It returns nil if absent.
func (c *Calculator) Scalar(ctx context.Context, jobID string, size float64) (*float64, error) {
	vector, err := c.Vector(ctx, jobID, size, size+1, 1)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, nil
	}
	return &vector[0], nil
}

func (c *Calculator) floats(ctx context.Context, jobID, metric string, start, end, step float64) ([]float64, error) {
	samples, err := c.proxy.ModelFor(ctx, jobID, metric, start, end, step)
	if err != nil {
		return nil, err
	}
	if samples == nil {
		return nil, nil
	}
	values := make([]float64, len(samples))
	for i, sample := range samples {
		v, err := strconv.ParseFloat(sample.V, 64)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
