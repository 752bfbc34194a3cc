// package domain/nfe.go
package domain

import "encoding/xml"

// NFeProc represents the root structure of a processed NFe XML.
type NFeProc struct {
	XMLName xml.Name `xml:"nfeProc"`
	NFe     NFeXML   `xml:"NFe"`
	ProtNFe struct {
		InfProt struct {
			ChNFe string `xml:"chNFe"`
			CStat string `xml:"cStat"`
		} `xml:"infProt"`
	} `xml:"protNFe"`
}

// NFeXML represents the <NFe> node in the XML.
type NFeXML struct {
	InfNFe struct {
		ID    string   `xml:"Id,attr"`
		Ide   IdeXML   `xml:"ide"`
		Emit  PartyXML `xml:"emit"`
		Dest  PartyXML `xml:"dest"`
		Det   []DetXML `xml:"det"`
		Total TotalXML `xml:"total"`
	} `xml:"infNFe"`
}

// IdeXML represents the <ide> node (NFe identification).
type IdeXML struct {
	NNF   string `xml:"nNF"`
	Serie string `xml:"serie"`
	DhEmi string `xml:"dhEmi"`
	DEmi  string `xml:"dEmi"`
}

// PartyXML represents <emit> and <dest>.
type PartyXML struct {
	CNPJ  string `xml:"CNPJ"`
	CPF   string `xml:"CPF"`
	XNome string `xml:"xNome"`
	Ender struct {
		UF string `xml:"UF"`
	} `xml:"enderEmit"`
	EnderDest struct {
		UF string `xml:"UF"`
	} `xml:"enderDest"`
}

// TaxID returns the CNPJ or, for individuals, the CPF.
func (p PartyXML) TaxID() string {
	if p.CNPJ != "" {
		return p.CNPJ
	}
	return p.CPF
}

// UF returns the state from whichever address block is present.
func (p PartyXML) UF() string {
	if p.Ender.UF != "" {
		return p.Ender.UF
	}
	return p.EnderDest.UF
}

// TotalXML represents the <total> node with tax totals.
type TotalXML struct {
	ICMSTot ICMSTotXML `xml:"ICMSTot"`
}

// ICMSTotXML represents the <ICMSTot> node.
type ICMSTotXML struct {
	VICMS   string `xml:"vICMS"`
	VST     string `xml:"vST"`
	VIPI    string `xml:"vIPI"`
	VPIS    string `xml:"vPIS"`
	VCOFINS string `xml:"vCOFINS"`
	VNF     string `xml:"vNF"`
}

// TaxGroupXML matches any ICMS/PIS/COFINS variant (ICMS00, ICMSSN101, PISAliq...).
type TaxGroupXML struct {
	XMLName     xml.Name
	VICMS       string `xml:"vICMS"`
	VICMSST     string `xml:"vICMSST"`
	VCredICMSSN string `xml:"vCredICMSSN"`
	VPIS        string `xml:"vPIS"`
	VCOFINS     string `xml:"vCOFINS"`
}

// DetXML represents the <det> node (product/service details).
type DetXML struct {
	NItem string `xml:"nItem,attr"`
	Prod  struct {
		CProd string `xml:"cProd"`
		XProd string `xml:"xProd"`
		NCM   string `xml:"NCM"`
		CFOP  string `xml:"CFOP"`
		VProd string `xml:"vProd"`
	} `xml:"prod"`
	Imposto struct {
		ICMS struct {
			Groups []TaxGroupXML `xml:",any"`
		} `xml:"ICMS"`
		IPI struct {
			IPITrib struct {
				VIPI string `xml:"vIPI"`
			} `xml:"IPITrib"`
		} `xml:"IPI"`
		PIS struct {
			Groups []TaxGroupXML `xml:",any"`
		} `xml:"PIS"`
		COFINS struct {
			Groups []TaxGroupXML `xml:",any"`
		} `xml:"COFINS"`
	} `xml:"imposto"`
}

// CTeProc represents the root structure of a processed CT-e XML.
type CTeProc struct {
	XMLName xml.Name `xml:"cteProc"`
	CTe     struct {
		InfCte struct {
			ID  string `xml:"Id,attr"`
			Ide struct {
				NCT   string `xml:"nCT"`
				Serie string `xml:"serie"`
				CFOP  string `xml:"CFOP"`
				DhEmi string `xml:"dhEmi"`
			} `xml:"ide"`
			Emit  PartyXML `xml:"emit"`
			VPrest struct {
				VTPrest string `xml:"vTPrest"`
			} `xml:"vPrest"`
			Imp struct {
				ICMS struct {
					Groups []TaxGroupXML `xml:",any"`
				} `xml:"ICMS"`
			} `xml:"imp"`
		} `xml:"infCte"`
	} `xml:"CTe"`
	ProtCTe struct {
		InfProt struct {
			ChCTe string `xml:"chCTe"`
		} `xml:"infProt"`
	} `xml:"protCTe"`
}

// ProcEventoNFe represents an NFe event envelope (cancellation, correction...).
type ProcEventoNFe struct {
	XMLName xml.Name `xml:"procEventoNFe"`
	Evento  struct {
		InfEvento struct {
			ChNFe    string `xml:"chNFe"`
			TpEvento string `xml:"tpEvento"`
		} `xml:"infEvento"`
	} `xml:"evento"`
}

// EventoCancelamento is the NFe cancellation event type.
const EventoCancelamento = "110111"
