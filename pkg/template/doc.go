// Package template renders {{expression}} placeholders in rule response bodies
// and WebSocket messages.
//
// Built-ins:
//   - {{now}}, {{timestamp}}, {{timestamp.unix_ms}}
//   - {{uuid}}, {{random.int(min, max)}}, {{random.string(n)}}
//   - {{upper(x)}}, {{lower(x)}}, {{default(x, "fallback")}}
//
// Request fields (HTTP rules):
//   - {{request.method}}, {{request.path}}
//   - {{request.query.NAME}}, {{request.header.NAME}}, {{request.pathParam.NAME}}
//   - {{request.body.a.b}} (dotted path into a JSON body)
//
// Session fields (WebSocket):
//   - {{message}}, {{message.a.b}}
//   - {{vars.NAME}}
//
// Unknown expressions render as the empty string. When the Context carries a
// seeded *rand.Rand, random values are reproducible.
package template
