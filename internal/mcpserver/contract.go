package mcpserver

// DocumentFormatContract describes the canonical markdown document format
// that the sync engine parses into entities, observations, and relations.
const DocumentFormatContract = `# Mimir Document Format Contract

Every markdown document synced into the Mimir knowledge graph SHOULD
follow this structure. The parser is tolerant (a malformed document still
becomes an entity), but only conforming lines become graph facts.

## Structure

` + "```" + `markdown
---
title: Human-readable title         # OPTIONAL - falls back to first heading, then filename
type: note                          # OPTIONAL - entity type, defaults to "note"
permalink: custom/slug              # OPTIONAL - overrides the path-derived permalink
---

# Title heading

Body text in standard Markdown.

- [category] observation content (optional context)
- relation_type [[Target Entity]]

Use [[wikilinks]] anywhere in the body to create links_to relations.
` + "```" + `

## Rules

1. **One file, one entity.** Every ` + "`" + `.md` + "`" + ` file becomes exactly one entity;
   its permalink derives from the file path unless frontmatter overrides it.
2. **Observations** are list items of the form ` + "`" + `- [category] content` + "`" + `.
   The category defaults to ` + "`" + `note` + "`" + ` when the brackets are omitted but the
   line matches an observation. A trailing ` + "`" + `(context)` + "`" + ` is optional.
3. **Relations** are list items of the form ` + "`" + `- relation_type [[Target]]` + "`" + `.
   The target may be a title, a permalink, or a file path; it resolves when
   the target entity exists and stays pending otherwise.
4. **Wikilinks** in body text become ` + "`" + `links_to` + "`" + ` relations.
   ` + "`" + `[[target|alias]]` + "`" + ` normalises to ` + "`" + `target` + "`" + `.
5. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
6. **Encoding** is UTF-8 with a trailing newline.

## Example

` + "```" + `markdown
---
title: Coffee brewing methods
type: note
---

# Coffee brewing methods

Pour-over gives a cleaner cup than immersion.

- [technique] V60 pour-over with a 1:16 ratio (daily driver)
- [preference] Light roasts over dark
- pairs_with [[Grinder calibration]]
- relates_to [[notes/water-chemistry]]
` + "```" + `
`
