package cli

import "github.com/AlecAivazis/survey/v2"

// Prompter asks the operator questions (allows mocking in tests).
type Prompter interface {
	Confirm(message string, defaultValue bool) (bool, error)
}

// SurveyPrompter implements Prompter using the survey library.
type SurveyPrompter struct{}

func (p *SurveyPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return false, err
	}
	return result, nil
}

// DefaultPrompter is the prompter used in production.
var DefaultPrompter Prompter = &SurveyPrompter{}
