package scheduler

import (
	"github.com/robfig/cron/v3"
)

// Cron runs periodic maintenance jobs such as the idle-conversation sweep.
type Cron struct {
	cron *cron.Cron
}

// NewCron creates and starts a cron runner using the standard 5-field parser
// (min, hour, dom, month, dow). A panicking job is recovered and logged.
func NewCron() *Cron {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Cron{cron: c}
}

// AddJob schedules task with a cron expression and returns its entry id.
func (c *Cron) AddJob(expr string, task func()) (cron.EntryID, error) {
	return c.cron.AddFunc(expr, task)
}

// Entries returns the number of registered jobs.
func (c *Cron) Entries() int {
	return len(c.cron.Entries())
}

// Stop stops the runner and waits for running jobs to finish.
func (c *Cron) Stop() {
	<-c.cron.Stop().Done()
}
