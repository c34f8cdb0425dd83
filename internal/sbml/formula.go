package sbml

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

const mathMLNamespace = "http://www.w3.org/1998/Math/MathML"

// operator and function names mapped to MathML elements.
var (
	binaryOps = map[string]string{"+": "plus", "-": "minus", "*": "times", "/": "divide", "^": "power", "**": "power"}
	functions = map[string]string{"exp": "exp", "ln": "ln", "log": "log", "sqrt": "root", "abs": "abs", "sin": "sin", "cos": "cos", "tan": "tan"}
)

// formula is a parsed infix rate expression.
type formula struct {
	node ast.Node
}

// parseFormula parses an infix formula with + - * / ^ (or **), unary minus,
// parentheses, bracketed species such as [A] and the functions in the
// functions table. Anything else the expression grammar accepts is rejected.
func parseFormula(src string) (formula, error) {
	if strings.TrimSpace(src) == "" {
		return formula{}, fmt.Errorf("empty formula")
	}
	tree, err := parser.Parse(src)
	if err != nil {
		return formula{}, fmt.Errorf("parse %q: %w", src, err)
	}
	f := formula{node: tree.Node}
	if err := f.visit(f.node, func(string) {}); err != nil {
		return formula{}, fmt.Errorf("formula %q: %w", src, err)
	}
	return f, nil
}

// idents calls yield for every variable in the formula, in order.
func (f formula) idents(yield func(string)) {
	_ = f.visit(f.node, yield)
}

// visit checks that node only uses supported constructs and reports its
// identifiers.
func (f formula) visit(node ast.Node, yield func(string)) error {
	switch n := node.(type) {
	case *ast.IntegerNode, *ast.FloatNode:
		return nil
	case *ast.IdentifierNode:
		yield(n.Value)
		return nil
	case *ast.ArrayNode:
		_, err := species(n)
		if err == nil {
			yield(n.Nodes[0].(*ast.IdentifierNode).Value)
		}
		return err
	case *ast.UnaryNode:
		if n.Operator != "-" && n.Operator != "+" {
			return fmt.Errorf("unsupported operator %q", n.Operator)
		}
		return f.visit(n.Node, yield)
	case *ast.BinaryNode:
		if _, ok := binaryOps[n.Operator]; !ok {
			return fmt.Errorf("unsupported operator %q", n.Operator)
		}
		if err := f.visit(n.Left, yield); err != nil {
			return err
		}
		return f.visit(n.Right, yield)
	case *ast.CallNode, *ast.BuiltinNode:
		_, args, err := function(n)
		if err != nil {
			return err
		}
		for _, a := range args {
			if err := f.visit(a, yield); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported expression %s", node)
}

// species unwraps a bracketed species reference, parsed as a one-element array.
func species(n *ast.ArrayNode) (string, error) {
	if len(n.Nodes) != 1 {
		return "", fmt.Errorf("bracketed species must hold one identifier, got %s", n)
	}
	id, ok := n.Nodes[0].(*ast.IdentifierNode)
	if !ok || !validID(id.Value) {
		return "", fmt.Errorf("invalid species reference %s", n)
	}
	return id.Value, nil
}

func function(node ast.Node) (string, []ast.Node, error) {
	var (
		name string
		args []ast.Node
	)
	switch n := node.(type) {
	case *ast.BuiltinNode:
		name, args = n.Name, n.Arguments
	case *ast.CallNode:
		callee, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			return "", nil, fmt.Errorf("unsupported call %s", node)
		}
		name, args = callee.Value, n.Arguments
	}
	el, ok := functions[strings.ToLower(name)]
	if !ok {
		return "", nil, fmt.Errorf("unknown function %q", name)
	}
	if len(args) != 1 {
		return "", nil, fmt.Errorf("%s takes one argument, got %d", name, len(args))
	}
	return el, args, nil
}

func encode(e *xml.Encoder, node ast.Node) error {
	switch n := node.(type) {
	case *ast.IntegerNode:
		return number(e, float64(n.Value))
	case *ast.FloatNode:
		return number(e, n.Value)
	case *ast.IdentifierNode:
		return e.EncodeElement(n.Value, xml.StartElement{Name: xml.Name{Local: "ci"}})
	case *ast.ArrayNode:
		id, err := species(n)
		if err != nil {
			return err
		}
		return e.EncodeElement(id, xml.StartElement{Name: xml.Name{Local: "ci"}})
	case *ast.UnaryNode:
		if n.Operator == "+" {
			return encode(e, n.Node)
		}
		return apply(e, "minus", n.Node)
	case *ast.BinaryNode:
		return apply(e, binaryOps[n.Operator], n.Left, n.Right)
	case *ast.CallNode, *ast.BuiltinNode:
		el, args, err := function(n)
		if err != nil {
			return err
		}
		return apply(e, el, args...)
	}
	return fmt.Errorf("unsupported expression %s", node)
}

func number(e *xml.Encoder, v float64) error {
	start := xml.StartElement{Name: xml.Name{Local: "cn"}}
	text := strconv.FormatFloat(v, 'f', -1, 64)
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		start.Attr = []xml.Attr{{Name: xml.Name{Local: "type"}, Value: "integer"}}
		text = strconv.FormatInt(int64(v), 10)
	}
	return e.EncodeElement(text, start)
}

func apply(e *xml.Encoder, op string, args ...ast.Node) error {
	start := xml.StartElement{Name: xml.Name{Local: "apply"}}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	opStart := xml.StartElement{Name: xml.Name{Local: op}}
	if err := e.EncodeToken(opStart); err != nil {
		return err
	}
	if err := e.EncodeToken(opStart.End()); err != nil {
		return err
	}
	for _, a := range args {
		if err := encode(e, a); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// mathML wraps a formula so it marshals as a MathML <math> element.
type mathML struct{ root formula }

func (m mathML) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "math"}
	start.Attr = []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: mathMLNamespace}}
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := encode(e, m.root.node); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}
