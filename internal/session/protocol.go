package session

import (
	"fmt"
	"strconv"

	"github.com/admire-eurohpc/malleability-manager/internal/scheduler"
)

// requireField returns an error naming the missing field if absent.
func requireField(fields map[string]string, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%q expected in message but is missing", name)
	}
	return v, nil
}

// parseInit extracts and type-checks the init command's session
// parameters. Field validation errors here are protocol errors: an
// invalid init message terminates the session.
func parseInit(fields map[string]string) (scheduler.Params, error) {
	var params scheduler.Params

	procsPerNode, err := requireField(fields, "procs_per_node")
	if err != nil {
		return params, err
	}
	n, err := strconv.Atoi(procsPerNode)
	if err != nil {
		return params, fmt.Errorf("%q must be of type int but is %q", "procs_per_node", procsPerNode)
	}
	params.ProcsPerNode = n

	minProfiles, err := requireField(fields, "min_required_profiles")
	if err != nil {
		return params, err
	}
	n, err = strconv.Atoi(minProfiles)
	if err != nil {
		return params, fmt.Errorf("%q must be of type int but is %q", "min_required_profiles", minProfiles)
	}
	params.MinRequiredProfiles = n

	threshold, err := requireField(fields, "efficiency_threshold")
	if err != nil {
		return params, err
	}
	f, err := strconv.ParseFloat(threshold, 64)
	if err != nil {
		return params, fmt.Errorf("%q must be of type float but is %q", "efficiency_threshold", threshold)
	}
	params.EfficiencyThreshold = f

	return params, nil
}

// parseInvoke extracts and type-checks the invoke command's job id and
// available node count.
func parseInvoke(fields map[string]string) (jobID string, numAvailableNodes int, err error) {
	jobID, err = requireField(fields, "job_id")
	if err != nil {
		return "", 0, err
	}
	raw, err := requireField(fields, "num_available_nodes")
	if err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return "", 0, fmt.Errorf("%q must be of type int but is %q", "num_available_nodes", raw)
	}
	return jobID, n, nil
}

// errorReply builds a result=error response, optionally carrying a job id.
func errorReply(message string, jobID string) map[string]string {
	reply := map[string]string{"result": "error", "message": message}
	if jobID != "" {
		reply["job_id"] = jobID
	}
	return reply
}

// scheduleReply translates a scheduler.Result into a reply-stream message.
func scheduleReply(result scheduler.Result) map[string]string {
	if result.Err != nil {
		return errorReply(result.Err.Error(), result.JobID)
	}
	if result.Modify {
		return map[string]string{
			"result": "modify_configuration",
			"job_id": result.JobID,
			"delta":  strconv.Itoa(result.Delta),
		}
	}
	return map[string]string{
		"result": "retain_configuration",
		"job_id": result.JobID,
	}
}
