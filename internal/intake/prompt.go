package intake

import (
	"fmt"
	"strings"
)

// Outcome classifies the terminal result carried by a Prompt. Empty means
// the dialogue is still in progress.
const (
	OutcomeSaved     = "saved"
	OutcomeRetry     = "retry"
	OutcomeCancelled = "cancelled"
)

// Choice is one selectable option; the transport renders rows of choices as
// a keyboard and delivers Token back as an ActionSelection.
type Choice struct {
	Label string
	Token string
}

// Prompt is what the engine asks (or tells) the user next.
type Prompt struct {
	Text    string
	Choices [][]Choice
	Outcome string
}

const (
	ActionSkipComments  = "skip_comments"
	ActionConfirmSave   = "confirm_save"
	ActionConfirmCancel = "confirm_cancel"

	assetTokenPrefix = "asset:"
	locTokenPrefix   = "loc:"
	paidTokenPrefix  = "paid:"
)

func assetPrompt() Prompt {
	return Prompt{
		Text: "Select asset type:",
		Choices: [][]Choice{{
			{Label: AssetTruck, Token: assetTokenPrefix + AssetTruck},
			{Label: AssetTrailer, Token: assetTokenPrefix + AssetTrailer},
		}},
	}
}

func unitPrompt(asset string) Prompt {
	if asset == AssetTrailer {
		return Prompt{Text: "Enter trailer unit number:"}
	}
	return Prompt{Text: "Enter truck unit number:"}
}

func linkedUnitPrompt() Prompt {
	return Prompt{Text: "Which truck was the trailer with? Enter truck unit number:"}
}

func locationPrompt() Prompt {
	rows := make([][]Choice, 0, (len(Locations)+1)/2)
	for i := 0; i < len(Locations); i += 2 {
		row := []Choice{{Label: Locations[i], Token: locTokenPrefix + Locations[i]}}
		if i+1 < len(Locations) {
			row = append(row, Choice{Label: Locations[i+1], Token: locTokenPrefix + Locations[i+1]})
		}
		rows = append(rows, row)
	}
	return Prompt{Text: "Where was the repair?", Choices: rows}
}

func repairPrompt() Prompt {
	return Prompt{Text: "Describe the repair (short):"}
}

func totalPrompt() Prompt {
	return Prompt{Text: "Total amount? Examples: 10, $10, 10,50"}
}

func paidPrompt() Prompt {
	return Prompt{
		Text: "Who paid?",
		Choices: [][]Choice{{
			{Label: "Company", Token: paidTokenPrefix + PaidByCompany},
			{Label: "Driver", Token: paidTokenPrefix + PaidByDriver},
		}},
	}
}

func commentsPrompt() Prompt {
	return Prompt{
		Text:    "Any comments? Tap Skip if none.",
		Choices: [][]Choice{{{Label: "Skip", Token: ActionSkipComments}}},
	}
}

func filePrompt() Prompt {
	return Prompt{Text: "Send the invoice photo or file."}
}

func confirmPrompt(d *Draft) Prompt {
	lines := []string{
		"Preview",
		"Asset: " + d.AssetType,
		"Unit: " + d.UnitNumber,
	}
	if d.LinkedUnitNumber != "" {
		lines = append(lines, "With truck: "+d.LinkedUnitNumber)
	}
	comments := d.Comments
	if comments == "" {
		comments = "-"
	}
	lines = append(lines,
		"Location: "+d.Location,
		"Repair: "+d.RepairDesc,
		fmt.Sprintf("Total: $%.2f", d.TotalAmount),
		"Paid by: "+strings.ToUpper(d.PaidBy),
		"Comments: "+comments,
		"Reporter: "+d.Reporter,
		"",
		"Save this entry?",
	)
	return Prompt{
		Text: strings.Join(lines, "\n"),
		Choices: [][]Choice{{
			{Label: "Save", Token: ActionConfirmSave},
			{Label: "Cancel", Token: ActionConfirmCancel},
		}},
	}
}

func confirmRetryPrompt() Prompt {
	return Prompt{
		Text:    "Could not save the entry. Nothing was lost; tap Save to retry.",
		Outcome: OutcomeRetry,
		Choices: [][]Choice{{
			{Label: "Save", Token: ActionConfirmSave},
			{Label: "Cancel", Token: ActionConfirmCancel},
		}},
	}
}

func savedPrompt() Prompt {
	return Prompt{Text: "Saved.", Outcome: OutcomeSaved}
}

func cancelledPrompt() Prompt {
	return Prompt{Text: "Cancelled.", Outcome: OutcomeCancelled}
}

func rePrompt(text string, next Prompt) Prompt {
	next.Text = text
	return next
}
