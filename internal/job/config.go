package job

import (
	"fmt"
	"strings"

	"agendawatch/internal/config"
)

// FromConfig converts the configured jobs, parsing their durations.
func FromConfig(jobs []config.JobConfig) ([]Job, error) {
	out := make([]Job, 0, len(jobs))
	for i, jc := range jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		timeout, err := config.ParseDurationField(path+".timeout", jc.Timeout)
		if err != nil {
			return nil, err
		}
		j := Job{
			Name:     strings.TrimSpace(jc.Name),
			Schedule: strings.TrimSpace(jc.Schedule),
			Timeout:  timeout,
			Env:      jc.Env,
		}
		for k, sc := range jc.Steps {
			st, err := config.ParseDurationField(fmt.Sprintf("%s.steps[%d].timeout", path, k), sc.Timeout)
			if err != nil {
				return nil, err
			}
			j.Steps = append(j.Steps, Step{
				Name:    strings.TrimSpace(sc.Name),
				Check:   strings.TrimSpace(sc.Check),
				Run:     sc.Run,
				Dir:     sc.Dir,
				Timeout: st,
			})
		}
		out = append(out, j)
	}
	return out, nil
}
