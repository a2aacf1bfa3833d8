//go:build integration

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cucumber/godog"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// fetchedRevision is the revision returned by the last admin fetch.
var fetchedRevision *int64

func InitializeConfigScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		fetchedRevision = nil
		return c, nil
	})

	ctx.Step(`^the client "([^"]*)" is hidden$`, theClientIsHidden)
	ctx.Step(`^I fetch the configuration$`, iFetchTheConfiguration)
	ctx.Step(`^the offered clients should be "([^"]*)"$`, theOfferedClientsShouldBe)
	ctx.Step(`^I save clients "([^"]*)"$`, iSaveClients)
	ctx.Step(`^another administrator saves clients "([^"]*)"$`, anotherAdministratorSavesClients)
	ctx.Step(`^I save clients "([^"]*)" at the revision I fetched$`, iSaveClientsAtTheRevisionIFetched)
	ctx.Step(`^the stored clients should be "([^"]*)"$`, theStoredClientsShouldBe)
}

func splitNames(list string) []string {
	var out []string
	for _, n := range strings.Split(list, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func entryNames(entries []model.Entry) string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return strings.Join(names, ", ")
}

func theClientIsHidden(name string) error {
	_, _, err := world.services.Store.UpdateConfig(context.Background(), func(cfg *model.PortalConfig) error {
		cfg.Clients = append(cfg.Clients, model.Entry{Name: name, Hidden: true})
		return nil
	})
	return err
}

func iFetchTheConfiguration() error {
	rec := world.do("GET", "/api/config", "", nil)
	if rec.Code != http.StatusOK {
		return nil
	}
	var body struct {
		Revision *int64 `json:"revision"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		return err
	}
	fetchedRevision = body.Revision
	return nil
}

func theOfferedClientsShouldBe(list string) error {
	var cfg model.PortalConfig
	if err := json.Unmarshal(world.resp.Body.Bytes(), &cfg); err != nil {
		return err
	}
	if got, want := entryNames(cfg.Clients), strings.Join(splitNames(list), ", "); got != want {
		return fmt.Errorf("expected clients %q, got %q", want, got)
	}
	return nil
}

// saveClients replaces the client list, keeping the other lists as stored.
func saveClients(list string, revision *int64) error {
	cfg, _, err := world.services.Store.ReadConfig(context.Background())
	if err != nil {
		return err
	}
	payload := map[string]any{
		"clients":      splitNames(list),
		"campaigns":    cfg.Campaigns,
		"publications": cfg.Publications,
	}
	if revision != nil {
		payload["revision"] = *revision
	}
	_, err = world.doJSON("PUT", "/api/config", payload)
	return err
}

func iSaveClients(list string) error {
	return saveClients(list, nil)
}

func anotherAdministratorSavesClients(list string) error {
	if err := saveClients(list, nil); err != nil {
		return err
	}
	if world.resp.Code != http.StatusOK {
		return fmt.Errorf("save returned %d: %s", world.resp.Code, world.resp.Body.String())
	}
	return nil
}

func iSaveClientsAtTheRevisionIFetched(list string) error {
	if fetchedRevision == nil {
		return fmt.Errorf("the configuration was not fetched as an administrator")
	}
	return saveClients(list, fetchedRevision)
}

func theStoredClientsShouldBe(list string) error {
	cfg, _, err := world.services.Store.ReadConfig(context.Background())
	if err != nil {
		return err
	}
	if got, want := entryNames(cfg.Clients), strings.Join(splitNames(list), ", "); got != want {
		return fmt.Errorf("expected stored clients %q, got %q", want, got)
	}
	return nil
}
