// Package cfop holds the static CFOP reference table.
package cfop

import "strings"

// Scope is the territorial scope encoded by a CFOP's leading digit.
type Scope int

// Constants for CFOP scopes.
const (
	ScopeUnknown Scope = iota
	ScopeIntrastate
	ScopeInterstate
	ScopeForeign
)

// Inbound reports whether the code is an entrada (leading digit 1, 2 or 3).
func Inbound(code string) bool {
	code = strings.TrimSpace(code)
	return len(code) == 4 && code[0] >= '1' && code[0] <= '3'
}

// ScopeOf decodes the leading digit: 1/5 intrastate, 2/6 interstate, 3/7 foreign.
func ScopeOf(code string) Scope {
	code = strings.TrimSpace(code)
	if len(code) != 4 {
		return ScopeUnknown
	}
	switch code[0] {
	case '1', '5':
		return ScopeIntrastate
	case '2', '6':
		return ScopeInterstate
	case '3', '7':
		return ScopeForeign
	}
	return ScopeUnknown
}

// WithScope rewrites the leading digit of an inbound/outbound code for the
// given scope, keeping the last three digits.
func WithScope(code string, scope Scope) string {
	code = strings.TrimSpace(code)
	if len(code) != 4 || scope == ScopeUnknown {
		return code
	}
	base := byte('1')
	if code[0] >= '5' {
		base = '5'
	}
	return string(base+byte(scope-ScopeIntrastate)) + code[1:]
}

// Describe returns the description of a CFOP, or "" when the code is unknown.
// Interstate and foreign codes reuse the intrastate text of the same
// direction with a scope suffix: 2102 is "Compra para comercialização (interestadual)".
func Describe(code string) string {
	code = strings.TrimSpace(code)
	if d, ok := descriptions[code]; ok {
		return d
	}
	if len(code) != 4 {
		return ""
	}
	scope := ScopeOf(code)
	if scope == ScopeUnknown {
		return ""
	}
	inboundBase := WithScope(code, ScopeIntrastate)
	d, ok := descriptions[inboundBase]
	if !ok {
		return ""
	}
	switch scope {
	case ScopeInterstate:
		return d + " (interestadual)"
	case ScopeForeign:
		return d + " (exterior)"
	}
	return d
}

var descriptions = map[string]string{
	"1101": "Compra para industrialização ou produção rural",
	"1102": "Compra para comercialização",
	"1111": "Compra para industrialização de mercadoria recebida anteriormente em consignação industrial",
	"1113": "Compra para comercialização, de mercadoria recebida anteriormente em consignação mercantil",
	"1116": "Compra para industrialização originada de encomenda para recebimento futuro",
	"1117": "Compra para comercialização originada de encomenda para recebimento futuro",
	"1120": "Compra para industrialização, em venda à ordem, já recebida do vendedor remetente",
	"1121": "Compra para comercialização, em venda à ordem, já recebida do vendedor remetente",
	"1124": "Industrialização efetuada por outra empresa",
	"1126": "Compra para utilização na prestação de serviço sujeita ao ICMS",
	"1151": "Transferência para industrialização ou produção rural",
	"1152": "Transferência para comercialização",
	"1201": "Devolução de venda de produção do estabelecimento",
	"1202": "Devolução de venda de mercadoria adquirida ou recebida de terceiros",
	"1252": "Compra de energia elétrica por estabelecimento industrial",
	"1253": "Compra de energia elétrica por estabelecimento comercial",
	"1302": "Aquisição de serviço de comunicação por estabelecimento industrial",
	"1303": "Aquisição de serviço de comunicação por estabelecimento comercial",
	"1352": "Aquisição de serviço de transporte por estabelecimento industrial",
	"1353": "Aquisição de serviço de transporte por estabelecimento comercial",
	"1401": "Compra para industrialização em operação com mercadoria sujeita ao regime de substituição tributária",
	"1403": "Compra para comercialização em operação com mercadoria sujeita ao regime de substituição tributária",
	"1407": "Compra de mercadoria para uso ou consumo cuja mercadoria está sujeita ao regime de substituição tributária",
	"1406": "Compra de bem para o ativo imobilizado cuja mercadoria está sujeita ao regime de substituição tributária",
	"1410": "Devolução de venda de produção do estabelecimento em operação com produto sujeito ao regime de substituição tributária",
	"1411": "Devolução de venda de mercadoria adquirida ou recebida de terceiros em operação com mercadoria sujeita ao regime de substituição tributária",
	"1551": "Compra de bem para o ativo imobilizado",
	"1552": "Transferência de bem do ativo imobilizado",
	"1553": "Devolução de venda de bem do ativo imobilizado",
	"1556": "Compra de material para uso ou consumo",
	"1557": "Transferência de material para uso ou consumo",
	"1653": "Compra de combustível ou lubrificante por consumidor ou usuário final",
	"1901": "Entrada para industrialização por conta e ordem do adquirente da mercadoria",
	"1902": "Retorno de mercadoria remetida para industrialização por encomenda",
	"1906": "Retorno de mercadoria remetida para depósito fechado ou armazém geral",
	"1908": "Entrada de bem por conta de contrato de comodato",
	"1909": "Retorno de bem remetido por conta de contrato de comodato",
	"1910": "Entrada de bonificação, doação ou brinde",
	"1911": "Entrada de amostra grátis",
	"1912": "Entrada de mercadoria ou bem recebido para demonstração",
	"1913": "Retorno de mercadoria ou bem remetido para demonstração",
	"1915": "Entrada de mercadoria ou bem recebido para conserto ou reparo",
	"1916": "Retorno de mercadoria ou bem remetido para conserto ou reparo",
	"1920": "Entrada de vasilhame ou sacaria",
	"1949": "Outra entrada de mercadoria ou prestação de serviço não especificada",
	"5101": "Venda de produção do estabelecimento",
	"5102": "Venda de mercadoria adquirida ou recebida de terceiros",
	"5124": "Industrialização efetuada para outra empresa",
	"5152": "Transferência de mercadoria adquirida ou recebida de terceiros",
	"5201": "Devolução de compra para industrialização ou produção rural",
	"5202": "Devolução de compra para comercialização",
	"5403": "Venda de mercadoria adquirida ou recebida de terceiros em operação com mercadoria sujeita ao regime de substituição tributária, na condição de contribuinte substituto",
	"5405": "Venda de mercadoria adquirida ou recebida de terceiros em operação com mercadoria sujeita ao regime de substituição tributária, na condição de contribuinte substituído",
	"5411": "Devolução de compra para comercialização em operação com mercadoria sujeita ao regime de substituição tributária",
	"5551": "Venda de bem do ativo imobilizado",
	"5556": "Devolução de compra de material de uso ou consumo",
	"5901": "Remessa para industrialização por encomenda",
	"5902": "Retorno de mercadoria utilizada na industrialização por encomenda",
	"5910": "Remessa em bonificação, doação ou brinde",
	"5915": "Remessa de mercadoria ou bem para conserto ou reparo",
	"5929": "Lançamento efetuado em decorrência de emissão de documento fiscal relativo a operação ou prestação também registrada em equipamento Emissor de Cupom Fiscal",
	"5949": "Outra saída de mercadoria ou prestação de serviço não especificado",
}
