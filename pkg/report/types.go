package report

// ItemType classifies a test item in the launch hierarchy.
type ItemType string

// Item types accepted by the reporting service.
const (
	ItemTypeSuite    ItemType = "SUITE"
	ItemTypeStory    ItemType = "STORY"
	ItemTypeTest     ItemType = "TEST"
	ItemTypeScenario ItemType = "SCENARIO"
	ItemTypeStep     ItemType = "STEP"

	ItemTypeBeforeClass  ItemType = "BEFORE_CLASS"
	ItemTypeBeforeGroups ItemType = "BEFORE_GROUPS"
	ItemTypeBeforeMethod ItemType = "BEFORE_METHOD"
	ItemTypeBeforeSuite  ItemType = "BEFORE_SUITE"
	ItemTypeBeforeTest   ItemType = "BEFORE_TEST"
	ItemTypeAfterClass   ItemType = "AFTER_CLASS"
	ItemTypeAfterGroups  ItemType = "AFTER_GROUPS"
	ItemTypeAfterMethod  ItemType = "AFTER_METHOD"
	ItemTypeAfterSuite   ItemType = "AFTER_SUITE"
	ItemTypeAfterTest    ItemType = "AFTER_TEST"
)

// Status is a terminal item or launch status.
type Status string

// Statuses accepted by the reporting service.
const (
	StatusPassed      Status = "PASSED"
	StatusFailed      Status = "FAILED"
	StatusSkipped     Status = "SKIPPED"
	StatusStopped     Status = "STOPPED"
	StatusInterrupted Status = "INTERRUPTED"
	StatusCancelled   Status = "CANCELLED"
	StatusInfo        Status = "INFO"
	StatusWarn        Status = "WARN"
)

// LaunchMode controls launch visibility on the service side.
type LaunchMode string

const (
	LaunchModeDefault LaunchMode = "DEFAULT"
	LaunchModeDebug   LaunchMode = "DEBUG"
)

// AttributeValueLimit caps attribute key and value length; longer values are
// truncated before submission.
const AttributeValueLimit = 128

// Attribute is a key/value tag attached to a launch or item.
type Attribute struct {
	Key    string `json:"key,omitempty"`
	Value  string `json:"value"`
	System bool   `json:"system,omitempty"`
}

// TruncateAttributes returns attrs with keys and values clipped to
// AttributeValueLimit. The input slice is not modified.
func TruncateAttributes(attrs []Attribute) []Attribute {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]Attribute, len(attrs))
	for i, a := range attrs {
		if len(a.Key) > AttributeValueLimit {
			a.Key = a.Key[:AttributeValueLimit]
		}
		if len(a.Value) > AttributeValueLimit {
			a.Value = a.Value[:AttributeValueLimit]
		}
		out[i] = a
	}
	return out
}
