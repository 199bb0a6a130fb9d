package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"collabhub/internal/model"
	"collabhub/internal/repository/memstore"
)

// fixtures seeds the in-memory store. IDs in the file are kept so tasks and
// projects can reference users and each other.
type fixtures struct {
	Users []struct {
		ID    int64  `yaml:"id"`
		OrgID int64  `yaml:"org_id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
		Role  string `yaml:"role"`
	} `yaml:"users"`
	Projects []struct {
		ID           int64      `yaml:"id"`
		OrgID        int64      `yaml:"org_id"`
		OwnerID      *int64     `yaml:"owner_id"`
		Title        string     `yaml:"title"`
		DueDate      *time.Time `yaml:"due_date"`
		Progress     int        `yaml:"progress"`
		Status       string     `yaml:"status"`
		Stakeholders []int64    `yaml:"stakeholders"`
	} `yaml:"projects"`
	Tasks []struct {
		ID         int64      `yaml:"id"`
		ProjectID  int64      `yaml:"project_id"`
		AssigneeID *int64     `yaml:"assignee_id"`
		Title      string     `yaml:"title"`
		DueDate    *time.Time `yaml:"due_date"`
		Progress   int        `yaml:"progress"`
		Status     string     `yaml:"status"`
	} `yaml:"tasks"`
	Rules []struct {
		Name         string `yaml:"name"`
		Description  string `yaml:"description"`
		TriggerType  string `yaml:"trigger_type"`
		TriggerValue int    `yaml:"trigger_value"`
		Action       string `yaml:"action"`
		Priority     int    `yaml:"priority"`
		Status       string `yaml:"status"`
	} `yaml:"rules"`
}

// loadFixtures writes users, projects and tasks straight into db and returns
// the rules, which the caller creates through the rule service so they are
// validated.
func loadFixtures(path string, db *memstore.DB) ([]model.EscalationRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var f fixtures
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}

	for _, u := range f.Users {
		db.PutUser(memstore.User{ID: u.ID, OrgID: u.OrgID, Name: u.Name, Email: u.Email, Role: u.Role})
	}
	for _, p := range f.Projects {
		db.PutProject(memstore.Project{
			ID: p.ID, OrgID: p.OrgID, OwnerID: p.OwnerID, Title: p.Title,
			DueDate: p.DueDate, Progress: p.Progress, Status: p.Status, Stakeholders: p.Stakeholders,
		})
	}
	for _, t := range f.Tasks {
		db.PutTask(memstore.Task{
			ID: t.ID, ProjectID: t.ProjectID, AssigneeID: t.AssigneeID, Title: t.Title,
			DueDate: t.DueDate, Progress: t.Progress, Status: t.Status,
		})
	}

	rules := make([]model.EscalationRule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rules = append(rules, model.EscalationRule{
			Name:         r.Name,
			Description:  r.Description,
			TriggerType:  model.TriggerType(r.TriggerType),
			TriggerValue: r.TriggerValue,
			Action:       model.Action(r.Action),
			Priority:     r.Priority,
			Status:       model.RuleStatus(r.Status),
		})
	}
	return rules, nil
}
