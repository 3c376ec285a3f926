package integrity

import "fmt"

// classify turns a client-observed event into a violation skeleton (type,
// severity, description, metadata). Pure: the caller supplies the cumulative
// tab-switch count including the current occurrence.
func classify(e Event, switchCount int) Violation {
	switch e.Kind {
	case EventVisibilityLoss:
		return Violation{
			Type:        TypeTabSwitch,
			Severity:    tabSwitchSeverity(switchCount),
			Description: fmt.Sprintf("candidate switched away from the exam tab (occurrence %d)", switchCount),
			Meta:        map[string]interface{}{"count": switchCount},
		}
	case EventContextMenu:
		return Violation{
			Type:        TypeRightClick,
			Severity:    SeverityMedium,
			Description: "context menu invoked during the exam",
		}
	case EventClipboard:
		return Violation{
			Type:        TypeCopyPaste,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("clipboard %s attempted during the exam", e.Operation),
			Meta:        map[string]interface{}{"operation": e.Operation},
		}
	}
	return Violation{}
}

// tabSwitchSeverity escalates with the cumulative switch count:
// 1-2 low, 3-4 medium, 5+ high.
func tabSwitchSeverity(count int) string {
	switch {
	case count <= 2:
		return SeverityLow
	case count <= 4:
		return SeverityMedium
	}
	return SeverityHigh
}
