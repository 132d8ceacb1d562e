package decision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/taoyao-code/brick-gateway/internal/control"
)

// Decision 每轮交互产生的一对分类下标及展示标签
type Decision struct {
	Primary        uint8
	Secondary      uint8
	PrimaryLabel   string
	SecondaryLabel string
}

// Packet 转换为线上指令
func (d Decision) Packet() control.Packet {
	return control.Packet{Primary: d.Primary, Secondary: d.Secondary}
}

// Describe 展示名，例如 "Left Hand + Rock"
func (d Decision) Describe() string {
	return d.PrimaryLabel + " + " + d.SecondaryLabel
}

// Provider 每轮交互产出一条决策；输入结束时返回 io.EOF
type Provider interface {
	Next(ctx context.Context) (Decision, error)
}

// MaxLineBytes 单行输入上限，超出部分丢弃并按非法输入处理
const MaxLineBytes = 4096

// errLineTooLong 输入行超过 MaxLineBytes
var errLineTooLong = fmt.Errorf("input line longer than %d bytes", MaxLineBytes)

// ConsoleProvider 从文本输入读取 "primary, secondary" 行，非法输入提示后重读
type ConsoleProvider struct {
	labels *LabelMap
	in     *bufio.Reader
	out    io.Writer
	prompt string
}

// NewConsoleProvider labels 为 nil 时使用默认映射
func NewConsoleProvider(labels *LabelMap, in io.Reader, out io.Writer) *ConsoleProvider {
	if labels == nil {
		labels = DefaultLabelMap()
	}
	if out == nil {
		out = io.Discard
	}
	return &ConsoleProvider{
		labels: labels,
		in:     bufio.NewReader(in),
		out:    out,
		prompt: "Enter choices here (primary, secondary): ",
	}
}

// Next 阻塞读取直到得到一条合法决策
func (p *ConsoleProvider) Next(ctx context.Context) (Decision, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		fmt.Fprint(p.out, p.prompt)
		raw, err := p.readLine()
		if errors.Is(err, errLineTooLong) {
			fmt.Fprintf(p.out, "Invalid, try again: %v\n", err)
			continue
		}
		if err != nil {
			return Decision{}, err
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		d, err := ParseLine(p.labels, line)
		if err != nil {
			fmt.Fprintf(p.out, "Invalid, try again: %v\n", err)
			continue
		}
		return d, nil
	}
}

// readLine 读取一行；超长行读到行尾后丢弃，返回 errLineTooLong。
// 输入结束时返回 io.EOF，末尾没有换行的最后一行照常返回。
func (p *ConsoleProvider) readLine() (string, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, isPrefix, err := p.in.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong) {
				break
			}
			return "", err
		}
		if !tooLong {
			if len(buf)+len(chunk) > MaxLineBytes {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return "", errLineTooLong
	}
	return string(buf), nil
}

// ParseLine 解析 "primary, secondary"
func ParseLine(labels *LabelMap, line string) (Decision, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return Decision{}, errors.New("expected two comma separated choices")
	}
	return labels.Lookup(parts[0], parts[1])
}
