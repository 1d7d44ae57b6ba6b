package persona

// Persona is a named configuration bundle a client selects before starting a
// conversation. Immutable after catalog load.
type Persona struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Prompt      string `json:"prompt" yaml:"prompt"`
	Color       string `json:"color" yaml:"color"`
	Icon        string `json:"icon" yaml:"icon"`
	Voice       string `json:"voice" yaml:"voice"`
	Greeting    string `json:"greeting" yaml:"greeting"`
}

// Public is the client-facing view of a persona. The prompt stays server-side.
type Public struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

const (
	defaultVoice    = "alloy"
	defaultGreeting = "Hello! How can I help you today?"
)

func (p Persona) Public() Public {
	return Public{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Color:       p.Color,
		Icon:        p.Icon,
	}
}

// VoiceOrDefault returns the persona voice, falling back to the service default.
func (p Persona) VoiceOrDefault() string {
	if p.Voice == "" {
		return defaultVoice
	}
	return p.Voice
}

// GreetingOrDefault returns the scripted greeting, falling back to a generic one.
func (p Persona) GreetingOrDefault() string {
	if p.Greeting == "" {
		return defaultGreeting
	}
	return p.Greeting
}

// Catalog is an immutable persona lookup keyed by identifier. It is built once
// at startup and only read afterwards, so no locking is needed.
type Catalog struct {
	byID  map[string]Persona
	order []string
}

func NewCatalog(personas []Persona) *Catalog {
	c := &Catalog{byID: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		if p.ID == "" {
			continue
		}
		if _, exists := c.byID[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.byID[p.ID] = p
	}
	return c
}

// Get looks up a persona by identifier. A miss is reported through the bool,
// never an error.
func (c *Catalog) Get(id string) (Persona, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// All returns personas in catalog order.
func (c *Catalog) All() []Persona {
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.byID)
}
