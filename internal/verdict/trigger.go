package verdict

import (
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"apigate/internal/failure"
	"apigate/internal/logging"
)

// Trigger is the validated pull-request event.
type Trigger struct {
	PR   int    `json:"pr"`
	Base string `json:"base"`
	Head string `json:"head"`
}

// TriggerInput holds the raw trigger values as given on the command line.
type TriggerInput struct {
	PR   string
	Base string
	Head string
}

// Getenv looks up an environment variable.
type Getenv func(string) string

// ResolveTrigger fills in missing values from PR_NUMBER, BASE_REF and
// HEAD_REF, then from the GitHub event payload at GITHUB_EVENT_PATH, and
// validates the result. Head defaults to HEAD.
func ResolveTrigger(in TriggerInput, getenv Getenv) (Trigger, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	pr, base, head := in.PR, in.Base, in.Head
	if pr == "" {
		pr = getenv("PR_NUMBER")
	}
	if base == "" {
		base = getenv("BASE_REF")
	}
	if head == "" {
		head = getenv("HEAD_REF")
	}

	if path := getenv("GITHUB_EVENT_PATH"); path != "" && (pr == "" || base == "" || head == "") {
		ev, err := readEvent(path)
		if err != nil {
			return Trigger{}, err
		}
		if pr == "" {
			pr = ev.PR
		}
		if base == "" {
			base = ev.Base
		}
		if head == "" {
			head = ev.Head
		}
	}
	if head == "" {
		head = "HEAD"
	}
	return ValidateTrigger(TriggerInput{PR: pr, Base: base, Head: head})
}

func readEvent(path string) (TriggerInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TriggerInput{}, failure.MalformedTrigger("read event payload %s: %v", path, err)
	}
	if !gjson.ValidBytes(data) {
		return TriggerInput{}, failure.MalformedTrigger("event payload %s is not valid JSON", path)
	}
	res := gjson.GetManyBytes(data, "pull_request.number", "pull_request.base.sha", "pull_request.head.sha")
	logging.BootDebug("event payload %s: pr=%s base=%s head=%s", path, res[0].String(), res[1].String(), res[2].String())
	return TriggerInput{PR: res[0].String(), Base: res[1].String(), Head: res[2].String()}, nil
}

// ValidateTrigger checks raw trigger values. It runs before any artifact
// is written, so a malformed trigger never leaves one behind.
func ValidateTrigger(in TriggerInput) (Trigger, error) {
	raw := strings.TrimSpace(in.PR)
	if raw == "" {
		return Trigger{}, failure.MalformedTrigger("missing pull request number (use --pr, PR_NUMBER or GITHUB_EVENT_PATH)")
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return Trigger{}, failure.MalformedTrigger("pull request number %q is not numeric", in.PR)
		}
	}
	pr, err := strconv.Atoi(raw)
	if err != nil || pr <= 0 {
		return Trigger{}, failure.MalformedTrigger("pull request number %q is out of range", in.PR)
	}

	if err := validateRef("base", in.Base); err != nil {
		return Trigger{}, err
	}
	if err := validateRef("head", in.Head); err != nil {
		return Trigger{}, err
	}
	return Trigger{PR: pr, Base: strings.TrimSpace(in.Base), Head: strings.TrimSpace(in.Head)}, nil
}

func validateRef(name, ref string) error {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return failure.MalformedTrigger("missing %s revision", name)
	case strings.HasPrefix(ref, "-"):
		return failure.MalformedTrigger("%s revision %q must not start with '-'", name, ref)
	case strings.ContainsAny(ref, " \t\n\x00"):
		return failure.MalformedTrigger("%s revision %q contains whitespace", name, ref)
	}
	return nil
}
