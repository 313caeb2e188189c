package resources

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/config"
	"github.com/qntoni/passboltctl/cmd/passboltctl/internal/prompt"
	"github.com/qntoni/passboltctl/pkg/sdk"
)

// Date field choices.
const (
	OptionCreated  = "Created"
	OptionModified = "Modified"
)

// SearchByName asks for a name fragment and renders matching resources.
func SearchByName(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	name, err := prompt.Required(cfg.Prompter, "Resource name contains", 3)
	if err != nil {
		return err
	}

	rc, session, err := resourceClient(ctx, cfg)
	if err != nil {
		return err
	}
	resources, err := rc.SearchResourcesByName(ctx, session, name)
	if err != nil {
		return fmt.Errorf("failed to search resources: %w", err)
	}
	return render(ctx, cfg, w, rc, session, resources)
}

// SearchByDate asks for a date field and an inclusive day range, then renders
// the resources within it. Either bound may be left empty.
func SearchByDate(ctx context.Context, cfg *config.GlobalConfig, w io.Writer) error {
	p := cfg.Prompter
	choice, err := p.Select("Search on", []string{OptionCreated, OptionModified})
	if err != nil {
		return err
	}
	field := sdk.DateCreated
	if choice == OptionModified {
		field = sdk.DateModified
	}

	fromText, err := p.Text("From (YYYY-MM-DD, empty for no lower bound)", "")
	if err != nil {
		return err
	}
	toText, err := p.Text("To (YYYY-MM-DD, empty for no upper bound)", "")
	if err != nil {
		return err
	}
	from, to, err := ParseDayRange(fromText, toText, time.Local)
	if err != nil {
		return err
	}

	rc, session, err := resourceClient(ctx, cfg)
	if err != nil {
		return err
	}
	resources, err := rc.SearchResourcesByDate(ctx, session, field, from, to)
	if err != nil {
		return fmt.Errorf("failed to search resources: %w", err)
	}
	return render(ctx, cfg, w, rc, session, resources)
}

// ParseDayRange parses two dates into [start of from, end of to] in loc. Empty
// input leaves that bound zero.
func ParseDayRange(fromText, toText string, loc *time.Location) (time.Time, time.Time, error) {
	var from, to time.Time
	if fromText != "" {
		day, err := time.ParseInLocation(time.DateOnly, fromText, loc)
		if err != nil {
			return from, to, fmt.Errorf("invalid start date %q: want YYYY-MM-DD", fromText)
		}
		from = day
	}
	if toText != "" {
		day, err := time.ParseInLocation(time.DateOnly, toText, loc)
		if err != nil {
			return from, to, fmt.Errorf("invalid end date %q: want YYYY-MM-DD", toText)
		}
		to = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return from, to, nil
}
