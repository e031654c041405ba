package classyfire

import "strings"

// Node is one level of the ChemOnt taxonomy as returned by ClassyFire.
type Node struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ChemontID   string `json:"chemont_id,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Entity is the subset of a ClassyFire entity document the pipeline reads.
// Every level is optional; ClassyFire omits or nulls levels it could not
// assign.
type Entity struct {
	SMILES            string `json:"smiles,omitempty"`
	InChIKey          string `json:"inchikey,omitempty"`
	Kingdom           *Node  `json:"kingdom"`
	Superclass        *Node  `json:"superclass"`
	Class             *Node  `json:"class"`
	Subclass          *Node  `json:"subclass"`
	DirectParent      *Node  `json:"direct_parent"`
	IntermediateNodes []Node `json:"intermediate_nodes"`
}

// Taxonomy is the flattened classification of a single compound. Missing
// levels are empty strings.
type Taxonomy struct {
	Kingdom           string   `json:"kingdom"`
	Superclass        string   `json:"superclass"`
	Class             string   `json:"class"`
	Subclass          string   `json:"subclass"`
	DirectParent      string   `json:"direct_parent"`
	IntermediateNodes []string `json:"intermediate_nodes,omitempty"`
}

// IntermediateSeparator joins intermediate node names in tabular output.
const IntermediateSeparator = "; "

// IsEmpty reports whether no level of the taxonomy is populated.
func (t Taxonomy) IsEmpty() bool {
	return t.Kingdom == "" && t.Superclass == "" && t.Class == "" &&
		t.Subclass == "" && t.DirectParent == "" && len(t.IntermediateNodes) == 0
}

// IntermediateNodesString renders the intermediate nodes as a single cell.
func (t Taxonomy) IntermediateNodesString() string {
	return strings.Join(t.IntermediateNodes, IntermediateSeparator)
}

// Labels returns the populated labels in index order: direct parent,
// kingdom, superclass, class, subclass.
func (t Taxonomy) Labels() []string {
	var out []string
	for _, v := range []string{t.DirectParent, t.Kingdom, t.Superclass, t.Class, t.Subclass} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// TaxonomyOf flattens an entity. A nil entity yields an empty taxonomy.
func TaxonomyOf(e *Entity) Taxonomy {
	if e == nil {
		return Taxonomy{}
	}
	t := Taxonomy{
		Kingdom:      nodeName(e.Kingdom),
		Superclass:   nodeName(e.Superclass),
		Class:        nodeName(e.Class),
		Subclass:     nodeName(e.Subclass),
		DirectParent: nodeName(e.DirectParent),
	}
	for _, n := range e.IntermediateNodes {
		if n.Name != "" {
			t.IntermediateNodes = append(t.IntermediateNodes, n.Name)
		}
	}
	return t
}

func nodeName(n *Node) string {
	if n == nil {
		return ""
	}
	return n.Name
}
