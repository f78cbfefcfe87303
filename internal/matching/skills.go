package matching

// synonyms maps an alias to its canonical skill name.
var synonyms = map[string]string{
	"golang":      "go",
	"js":          "javascript",
	"ts":          "typescript",
	"node":        "nodejs",
	"node.js":     "nodejs",
	"reactjs":     "react",
	"react.js":    "react",
	"vuejs":       "vue",
	"postgres":    "postgresql",
	"k8s":         "kubernetes",
	"ml":          "machine-learning",
	"ui":          "ui-design",
	"ux":          "ux-design",
	"sol":         "solidity",
	"py":          "python",
	"copy":        "copywriting",
	"seo-writing": "copywriting",
}

// categories groups canonical skills into families that earn partial credit for each other.
var categories = map[string]string{
	"go":               "backend",
	"rust":             "backend",
	"java":             "backend",
	"python":           "backend",
	"nodejs":           "backend",
	"javascript":       "frontend",
	"typescript":       "frontend",
	"react":            "frontend",
	"vue":              "frontend",
	"angular":          "frontend",
	"solidity":         "smart-contracts",
	"vyper":            "smart-contracts",
	"move":             "smart-contracts",
	"postgresql":       "data",
	"mysql":            "data",
	"mongodb":          "data",
	"kubernetes":       "devops",
	"docker":           "devops",
	"terraform":        "devops",
	"machine-learning": "ai",
	"pytorch":          "ai",
	"tensorflow":       "ai",
	"ui-design":        "design",
	"ux-design":        "design",
	"figma":            "design",
	"copywriting":      "writing",
	"translation":      "writing",
}

func canonical(skill string) string {
	if c, ok := synonyms[skill]; ok {
		return c
	}
	return skill
}

// related reports a synonym or same-category relationship between two distinct skills.
func related(a, b string) bool {
	ca, cb := canonical(a), canonical(b)
	if ca == cb {
		return true
	}
	cat, ok := categories[ca]
	return ok && cat == categories[cb]
}
