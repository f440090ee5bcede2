package mock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/document"
	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
	"github.com/bryanwahyu/datasheet-lens/internal/infra/ai/prompt"
)

// Client is an offline provider that returns a fixed, schema-valid analysis
// of a generic voltage regulator. It goes through prompt.ParseReply so the
// output path matches the real provider.
type Client struct{}

func NewClient() *Client { return &Client{} }

func (Client) Analyze(ctx context.Context, pages []document.Page, cfg ai.ModelConfig) (ai.Result, error) {
	if err := ctx.Err(); err != nil {
		return ai.Result{}, err
	}
	if len(pages) == 0 {
		return ai.Result{}, &ai.ParseError{Reason: "no pages submitted"}
	}

	reply := map[string]any{
		"tags": map[string]string{
			"category":            "voltage regulator",
			"pages_reviewed":      fmt.Sprint(len(pages)),
			"input_voltage_range": "4.5 V to 28 V",
			"max_output_current":  "3 A",
		},
		"summary": "Synchronous step-down regulator.\n\n" +
			"- **VIN** supplies the internal high-side switch.\n" +
			"- **FB** sets the output voltage through a resistor divider.\n" +
			"- The reference design uses a 10 uF input capacitor and a 22 uF output capacitor.",
		"checkpoints": []records.Checkpoint{
			{Description: "Decoupling capacitor (10 uF X7R) placed within 2 mm of the VIN pin", Category: "decoupling"},
			{Description: "Feedback divider routed away from the switch node", Category: "layout"},
			{Description: "Exposed pad connected to the ground plane with thermal vias", Category: "thermal"},
		},
		"verification_snippet": "def check(netlist):\n" +
			"    vin = netlist['VIN']\n" +
			"    assert any(c['value_uf'] >= 10 for c in vin['capacitors']), 'missing VIN decoupling'\n" +
			"    assert netlist['EP']['net'] == 'GND', 'exposed pad not grounded'\n",
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return ai.Result{}, fmt.Errorf("failed to marshal mock reply: %w", err)
	}

	res, err := prompt.ParseReply(string(b))
	if err != nil {
		return ai.Result{}, err
	}
	res.Model = "mock"
	return res, nil
}
