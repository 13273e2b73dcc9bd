package generator

// The generated scripts follow a fixed contract shared with the sandbox:
//
//   transform.py  defines transform(source) -> str and, as __main__, pipes
//                 stdin through it. It is a pure function of its input.
//   test.py       loads corpus.txt from its working directory, runs the
//                 battery, prints "ok <name>" or "FAIL <name> <detail>" per
//                 check, and exits non-zero if anything failed.
//
// The validator parses that line protocol to fill Verdict.FailingTests.

const transformTemplate = `import sys

INSERTIONS = [
{{- range .Plan}}
    ({{pylit .Anchor}}, {{pylit .Fragment}}),
{{- end}}
]

PROBES = {fragment.strip() for _, fragment in INSERTIONS}


def transform(source):
    lines = source.split("\n")
    for anchor, fragment in INSERTIONS:
        out = []
        done = False
        i = 0
        while i < len(lines):
            line = lines[i]
            out.append(line)
            if not done and anchor in line:
                indent = line[:len(line) - len(line.lstrip())]
                # Several fragments may share one anchor, so the whole probe
                # block after the anchor is scanned before inserting.
                j = i + 1
                present = False
                while j < len(lines) and lines[j].strip() in PROBES:
                    if lines[j].strip() == fragment.strip():
                        present = True
                    j += 1
                if not present:
                    out.append(indent + fragment)
                done = True
            i += 1
        lines = out
    return "\n".join(lines)


if __name__ == "__main__":
    sys.stdout.write(transform(sys.stdin.read()))
`

const testTemplate = `import sys

from transform import transform

with open("corpus.txt") as fh:
    SOURCE = fh.read()

failures = []


def check(name, ok, detail=""):
    if ok:
        print("ok " + name)
    else:
        print("FAIL " + name + ((" " + detail) if detail else ""))
        failures.append(name)


out = transform(SOURCE)

check("non_empty_output", bool(out.strip()))
{{- range $idx, $ins := .Plan}}

count = out.count({{pylit $ins.Fragment}}) - SOURCE.count({{pylit $ins.Fragment}})
check("fragment_{{$idx}}_inserted_once", count == 1, "inserted %d times" % count)
{{- end}}

again = transform(out)
check("idempotent", again == out)


def additive_only(src, dst):
    remaining = iter(dst.split("\n"))
    for line in src.split("\n"):
        for candidate in remaining:
            if candidate == line:
                break
        else:
            return False
    return True


check("additive_only", additive_only(SOURCE, out))
{{- if .WantParseCheck}}

import ast

try:
    ast.parse(out)
    check("parse_ok", True)
except SyntaxError as exc:
    check("parse_ok", False, str(exc))
{{- end}}

sys.exit(1 if failures else 0)
`
