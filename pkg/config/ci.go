package config

// ciProvider maps one CI system's variables to the enrichment keys.
type ciProvider struct {
	name     string
	detect   string // variable that is set on this CI system
	jobID    string
	jobURL   func(getenv func(string) string) string
	pipeline string
	commit   string
	branch   string
}

var ciProviders = []ciProvider{
	{
		name:   "github",
		detect: "GITHUB_ACTIONS",
		jobID:  "GITHUB_JOB",
		jobURL: func(getenv func(string) string) string {
			server, repo, runID := getenv("GITHUB_SERVER_URL"), getenv("GITHUB_REPOSITORY"), getenv("GITHUB_RUN_ID")
			if server == "" || repo == "" || runID == "" {
				return ""
			}
			return server + "/" + repo + "/actions/runs/" + runID
		},
		pipeline: "GITHUB_RUN_ID",
		commit:   "GITHUB_SHA",
		branch:   "GITHUB_REF_NAME",
	},
	{
		name:     "gitlab",
		detect:   "GITLAB_CI",
		jobID:    "CI_JOB_ID",
		jobURL:   func(getenv func(string) string) string { return getenv("CI_JOB_URL") },
		pipeline: "CI_PIPELINE_ID",
		commit:   "CI_COMMIT_SHA",
		branch:   "CI_COMMIT_REF_NAME",
	},
	{
		name:     "jenkins",
		detect:   "JENKINS_URL",
		jobID:    "BUILD_NUMBER",
		jobURL:   func(getenv func(string) string) string { return getenv("BUILD_URL") },
		pipeline: "BUILD_TAG",
		commit:   "GIT_COMMIT",
		branch:   "GIT_BRANCH",
	},
}

// CIEnrichment returns the ci_* run metadata for the CI system detected in
// the environment, or nil outside CI. Empty values are omitted.
func CIEnrichment(getenv func(string) string) map[string]any {
	for _, p := range ciProviders {
		if getenv(p.detect) == "" {
			continue
		}
		out := map[string]any{"ci_provider": p.name}
		set := func(key, value string) {
			if value != "" {
				out[key] = value
			}
		}
		set("ci_job_id", getenv(p.jobID))
		set("ci_job_url", p.jobURL(getenv))
		set("ci_pipeline_id", getenv(p.pipeline))
		set("ci_commit", getenv(p.commit))
		set("ci_branch", getenv(p.branch))
		return out
	}
	return nil
}
